package tokengenerator

import (
	"net/http"
	"time"
)

// CookieSetter interface defines methods for cookie operations
type CookieSetter interface {
	SetCookie(w http.ResponseWriter, tokenName, tokenValue string, expire time.Time) error
	ClearCookie(w http.ResponseWriter, tokenName string) error
}

// BaseCookieSetter provides a base implementation of CookieSetter
type BaseCookieSetter struct {
	Path     string
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
}

func (c *BaseCookieSetter) SetCookie(w http.ResponseWriter, tokenName, tokenValue string, expire time.Time) error {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenName,
		Path:     c.Path,
		Value:    tokenValue,
		Expires:  expire,
		HttpOnly: c.HttpOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
	return nil
}

func (c *BaseCookieSetter) ClearCookie(w http.ResponseWriter, tokenName string) error {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenName,
		Path:     c.Path,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: c.HttpOnly,
		Secure:   c.Secure,
	})
	return nil
}

// NewCookieSetter creates a new cookie setter
func NewCookieSetter(httpOnly, secure bool) CookieSetter {
	return &BaseCookieSetter{
		Path:     "/",
		HttpOnly: httpOnly,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
