package googleapi

import (
	"fmt"
	"net/http"
	"runtime"
)

const (
	tokenInfoV3         = "https://www.googleapis.com/oauth2/v3/tokeninfo"
	tokenInfoOAuth2     = "https://oauth2.googleapis.com/tokeninfo"
	userAgentVersion    = "1.0.0"
	defaultAcceptHeader = "application/json"
)

// TokenInfoEndpoints are tried in order until one answers 200.
var TokenInfoEndpoints = []string{
	tokenInfoV3,
	tokenInfoOAuth2,
}

func platformUserAgent() string {
	return fmt.Sprintf("gettoken/%s %s/%s", userAgentVersion, runtime.GOOS, runtime.GOARCH)
}

func ApplyHeaders(header http.Header, token string, accept string) {
	if accept == "" {
		accept = defaultAcceptHeader
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	header.Set("User-Agent", platformUserAgent())
	header.Set("Accept", accept)
}
