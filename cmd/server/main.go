package main

import "github.com/nguyentranbao-ct/storefront-cart/cmd"

func main() {
	cmd.Execute()
}
