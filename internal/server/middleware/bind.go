package middleware

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/cstockton/go-conv"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

// BindAndValidate binds the request body, path params, query, headers,
// values set on the echo context and jwt claims into req, then validates it.
// Invalid requests are answered with bad request.
func BindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}

	if err := bindHeader(c.Request().Header, req); err != nil {
		return err
	}

	if err := bindContext(c, req); err != nil {
		return err
	}

	if err := bindJwt(c, req); err != nil {
		return err
	}

	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return nil
}

func extractJwtClaims(c echo.Context) *jwt.RegisteredClaims {
	token, ok := c.Get(jwtKey).(*jwt.Token)
	if !ok || token == nil {
		return nil
	}
	claims, _ := token.Claims.(*jwt.RegisteredClaims)
	return claims
}

// GetUserID returns the subject of the credential presented with the request.
// The credential is not verified here; use it for logging only.
func GetUserID(c echo.Context) string {
	if claims := extractJwtClaims(c); claims != nil {
		return claims.Subject
	}
	return ""
}

func unixOrZero(d *jwt.NumericDate) int64 {
	if d == nil {
		return 0
	}
	return d.Unix()
}

// bindJwt decodes jwt claims to struct by tag `jwt:"claim"`
func bindJwt(c echo.Context, dst interface{}) error {
	claims := extractJwtClaims(c)
	if claims == nil {
		return nil
	}

	getValueFn := func(tagValue string) (interface{}, error) {
		switch tagValue {
		case "sub":
			return claims.Subject, nil
		case "iss":
			return claims.Issuer, nil
		case "aud":
			return strings.Join(claims.Audience, ";"), nil
		case "jti":
			return claims.ID, nil
		case "exp":
			return unixOrZero(claims.ExpiresAt), nil
		case "iat":
			return unixOrZero(claims.IssuedAt), nil
		case "nbf":
			return unixOrZero(claims.NotBefore), nil
		default:
			return nil, fmt.Errorf("binding jwt field %s is not supported", tagValue)
		}
	}

	return bindStruct(dst, "jwt", getValueFn)
}

// bindHeader decode http header to struct by tag `header:"<header_name>"`
func bindHeader(header http.Header, dst interface{}) error {
	getValueFn := func(tagValue string) (interface{}, error) {
		return header.Get(tagValue), nil
	}

	return bindStruct(dst, "header", getValueFn)
}

// bindContext copies values stored on the echo context by tag `ctx:"<key>"`
func bindContext(c echo.Context, dst interface{}) error {
	getValueFn := func(tagValue string) (interface{}, error) {
		if v := c.Get(tagValue); v != nil {
			return v, nil
		}
		return "", nil
	}

	return bindStruct(dst, "ctx", getValueFn)
}

// bindStruct decode to struct by custom tag `tagName:"tagValue"`
// dst must be a pointer to a struct
func bindStruct(dst interface{}, tagName string, getValueFn func(tagValue string) (interface{}, error)) error {
	ptr := reflect.ValueOf(dst)
	if ptr.Kind() != reflect.Ptr {
		return fmt.Errorf("non-pointer passed to Unmarshal")
	}

	indirect := reflect.Indirect(ptr)
	structType := indirect.Type()

	for i := 0; i < structType.NumField(); i++ {
		structField := structType.Field(i)
		tagValue := structField.Tag.Get(tagName)
		if tagValue == "-" || tagValue == "" {
			continue
		}

		field := indirect.Field(i)
		value, err := getValueFn(tagValue)
		if err != nil {
			return err
		}
		if err := conv.Infer(field, value); err != nil {
			return fmt.Errorf("cannot parse %s.%s as %s from: %#v / %s",
				structType.Name(), structField.Name, field.Type(), value, err)
		}
	}

	return nil
}
