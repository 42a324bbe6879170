// Package tracecaptcha contains global constants shared by the motion
// CAPTCHA server and its libraries.
package tracecaptcha

import "time"

// Version is the current version of tracecaptcha.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

// CookieName is the name of the cookie that carries the signed pass token.
var CookieName = "tracecaptcha-pass"

// WithDomainCookieName is the prefix used for the pass cookie when a cookie
// domain is configured.
var WithDomainCookieName = "tracecaptcha-pass-for-"

// CookieDefaultExpirationTime is how long a pass token stays valid.
const CookieDefaultExpirationTime = 30 * time.Minute

// BasePrefix is a global prefix for all tracecaptcha endpoints.
var BasePrefix = ""

// APIPrefix is the path under which the JSON API is served.
const APIPrefix = "/api/"

// DefaultResamplePoints is the number of arc-length-uniform points both the
// user stroke and the template are resampled to before alignment.
const DefaultResamplePoints = 64

// DefaultMinPoints is the minimum number of raw points a stroke must have
// before any geometry runs.
const DefaultMinPoints = 12

// DefaultChallengeTTL is how long an issued challenge may be answered.
const DefaultChallengeTTL = 2 * time.Minute

// DefaultBotThreshold is the bot score at or above which a stroke is
// considered automated.
const DefaultBotThreshold = 3.0

// DefaultMinDuration is the stroke duration below which tracing is
// considered too fast for a person.
const DefaultMinDuration = 400 * time.Millisecond
