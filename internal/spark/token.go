package spark

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/patrickspencer/buildbat/pkg/plugin"
)

const (
	samlGrantType = "urn:ietf:params:oauth:grant-type:saml2-bearer"
	machineScope  = "webex-squared:get_conversation webex-squared:kms_read " +
		"webex-squared:kms_write webex-squared:kms_bind Identity:SCIM"
)

// machineTokenSource exchanges the machine account password for a SAML
// bearer assertion and then for an OAuth2 access token. It is built per
// call so the exchange honours the caller's context.
type machineTokenSource struct {
	ctx    context.Context
	client *Client
	creds  plugin.Credentials
}

func (s *machineTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.client.timeout)
	defer cancel()

	assertion, err := s.bearerAssertion(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "request SAML assertion")
	}
	tok, err := s.accessToken(ctx, assertion)
	if err != nil {
		return nil, errors.Wrap(err, "request OAuth2 token")
	}
	return tok, nil
}

func (s *machineTokenSource) bearerAssertion(ctx context.Context) (string, error) {
	path := "/token/" + url.PathEscape(s.creds.OrgID) + "/v1/actions/GetBearerToken/invoke"
	body, err := s.client.doRequest(ctx, http.MethodPost, s.client.idbroker+path, nil, map[string]string{
		"name":     s.creds.MachineUser,
		"password": s.creds.MachinePassword,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		BearerToken string `json:"BearerToken"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.Wrap(err, "decode bearer token response")
	}
	if out.BearerToken == "" {
		return "", errors.New("empty BearerToken in response")
	}
	return out.BearerToken, nil
}

func (s *machineTokenSource) accessToken(ctx context.Context, assertion string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type": {samlGrantType},
		"assertion":  {assertion},
		"scope":      {machineScope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.idbroker+"/oauth2/v1/access_token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Basic "+s.creds.BasicAuth)

	body, err := s.client.send(req)
	if err != nil {
		return nil, err
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decode access token response")
	}
	if out.AccessToken == "" {
		return nil, errors.New("empty access_token in response")
	}
	tok := &oauth2.Token{
		AccessToken:  out.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: out.RefreshToken,
	}
	if out.ExpiresIn > 0 {
		tok.Expiry = s.client.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// machineSession caches the last machine token for one set of
// credentials. It is replaced whenever the credentials change.
type machineSession struct {
	creds plugin.Credentials
	tok   *oauth2.Token
}

// MachineToken returns a valid access token for the machine account,
// exchanging the credentials again once the cached token expires.
func (c *Client) MachineToken(ctx context.Context, creds plugin.Credentials) (*oauth2.Token, error) {
	c.mu.Lock()
	if c.machine == nil || c.machine.creds != creds {
		c.machine = &machineSession{creds: creds}
	}
	sess := c.machine
	cached := sess.tok
	c.mu.Unlock()

	ts := oauth2.ReuseTokenSource(cached, &machineTokenSource{ctx: ctx, client: c, creds: creds})
	tok, err := ts.Token()
	if err != nil {
		return nil, errors.Wrap(err, "spark: machine account token")
	}
	if tok != cached {
		c.mu.Lock()
		sess.tok = tok
		c.mu.Unlock()
	}
	return tok, nil
}
