package credentials

// Config is a loaded credential. The only implementations are
// *ServiceAccount and *UserInstalledApp.
type Config interface {
	TokenEndpoint() string
	credentialConfig()
}

// ServiceAccount holds the fields of a service account key file needed to
// mint a JWT-bearer assertion.
type ServiceAccount struct {
	ClientEmail   string
	PrivateKeyPEM string
	TokenURI      string
	Scope         string
}

func (s *ServiceAccount) TokenEndpoint() string { return s.TokenURI }
func (*ServiceAccount) credentialConfig()       {}

// UserInstalledApp holds the OAuth client of an installed application used
// for the authorization-code flow.
type UserInstalledApp struct {
	ClientID     string
	ClientSecret string
	AuthURI      string
	TokenURI     string
	Scopes       []string
}

func (u *UserInstalledApp) TokenEndpoint() string { return u.TokenURI }
func (*UserInstalledApp) credentialConfig()       {}

// serviceAccountFile represents the service account key JSON file
type serviceAccountFile struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// clientSecretFile represents a downloaded OAuth client JSON file. Google
// nests the client under "installed" or "web"; flat files are accepted too.
type clientSecretFile struct {
	Installed *clientSecret `json:"installed"`
	Web       *clientSecret `json:"web"`
	clientSecret
}

type clientSecret struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AuthURI      string `json:"auth_uri"`
	TokenURI     string `json:"token_uri"`
}

// Defaults shared by the token tools
const (
	DefaultServiceAccountScope = "https://www.googleapis.com/auth/cloud-platform"
	DefaultTokenURI            = "https://oauth2.googleapis.com/token"
)

// DefaultUserScopes are requested by the user flow when none are configured.
var DefaultUserScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"email",
}
