package auth

import (
	"net/http"
	"time"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

// SetTokenCookies sets both token cookies. The cookie max-ages are
// longer than the tokens' own expiry on purpose: the access cookie
// outlives its 15-minute token and the client relies on refresh
// rotation to stay signed in.
func SetTokenCookies(w http.ResponseWriter, accessToken, refreshToken string, accessMaxAge, refreshMaxAge int, config CookieConfig) {
	setCookie(w, AccessTokenCookie, accessToken, accessMaxAge, config)
	setCookie(w, RefreshTokenCookie, refreshToken, refreshMaxAge, config)
}

// ClearTokenCookies removes both token cookies
func ClearTokenCookies(w http.ResponseWriter, config CookieConfig) {
	setCookie(w, AccessTokenCookie, "", -1, config)
	setCookie(w, RefreshTokenCookie, "", -1, config)
}

// RefreshTokenFromRequest reads the refresh token cookie
func RefreshTokenFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// AccessTokenFromRequest reads the access token cookie
func AccessTokenFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

func setCookie(w http.ResponseWriter, name, value string, maxAge int, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	}
	if maxAge > 0 {
		cookie.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	http.SetCookie(w, cookie)
}

func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
