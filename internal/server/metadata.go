package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

const (
	ProtectedResourceMetadataPath   = "/.well-known/oauth-protected-resource"
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
)

// ProtectedResourceMetadataURL returns where resourceURL publishes its
// RFC 9728 metadata. It goes into WWW-Authenticate challenges.
func ProtectedResourceMetadataURL(resourceURL string) string {
	return strings.TrimRight(resourceURL, "/") + ProtectedResourceMetadataPath
}

// protectedResourceMetadata is the RFC 9728 document.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// authorizationServerMetadata is the RFC 8414 subset MCP clients read before
// doing their own discovery on the issuer.
type authorizationServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	JWKSURI                       string   `json:"jwks_uri,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSONValue(w, http.StatusOK, protectedResourceMetadata{
		Resource:               strings.TrimRight(s.opts.ResourceURL, "/"),
		AuthorizationServers:   []string{s.opts.Issuer},
		ScopesSupported:        s.opts.ScopesSupported,
		BearerMethodsSupported: []string{"header"},
		ResourceName:           s.opts.ResourceName,
	})
}

func (s *Server) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	base := s.opts.Issuer
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	writeJSONValue(w, http.StatusOK, authorizationServerMetadata{
		Issuer:                        s.opts.Issuer,
		AuthorizationEndpoint:         base + "authorize",
		TokenEndpoint:                 base + "oauth/token",
		JWKSURI:                       s.opts.JWKSURI,
		ScopesSupported:               s.opts.ScopesSupported,
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
	})
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSONValue(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.registry.Len(),
		"time":     time.Now().Format(time.RFC3339),
	})
}

func writeJSONValue(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
