// Package localapi is the typed client for a local cluster's REST surface:
// the printer system API under /api/v1 and the cluster state API under
// /cluster-api/v1. It owns the HTTP Digest authentication state machine.
package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/transport"
	"github.com/printnest/printnest/pkg/models"
)

const (
	apiPrefix     = "/api/v1"
	clusterPrefix = "/cluster-api/v1"

	// maxAuthRequests caps proactive credential requests per open session.
	maxAuthRequests = 5
)

// AuthStatus is the printer's answer to a pending credential check.
type AuthStatus string

const (
	AuthAuthorized   AuthStatus = "authorized"
	AuthUnauthorized AuthStatus = "unauthorized"
	AuthWait         AuthStatus = "wait"
)

// System is the printer system record returned by GET /api/v1/system. The
// local discovery manager uses it to confirm manually-added hosts.
type System struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Firmware string `json:"firmware"`
	Variant  string `json:"variant"`
	GUID     string `json:"guid"`
	Hardware struct {
		TypeID   int64 `json:"typeid"`
		Revision int64 `json:"revision"`
	} `json:"hardware"`
}

// Client talks to one cluster host.
type Client struct {
	transport *transport.Client
	base      string // e.g. "http://192.168.1.10"
	session   *digestSession
	logger    *zap.Logger

	authPollInterval time.Duration
	authPollBudget   int

	mu           sync.Mutex
	authAttempts int
	application  string
	user         string
	onAuthorized func(models.Credential)
	pairing      bool
}

// NewClient creates a client for the cluster host at address (bare IP or
// host; port 80 implied).
func NewClient(t *transport.Client, address string, logger *zap.Logger) *Client {
	return &Client{
		transport:        t,
		base:             "http://" + address,
		session:          &digestSession{},
		logger:           logger,
		authPollInterval: 2 * time.Second,
		authPollBudget:   30,
		application:      "PrintNest",
		user:             "unknown",
	}
}

// SetIdentity sets the application and user names offered when the client
// starts the credential handshake itself.
func (c *Client) SetIdentity(application, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if application != "" {
		c.application = application
	}
	if user != "" {
		c.user = user
	}
}

// OnAuthorized registers a callback invoked when a handshake the client
// started on its own is approved on the printer.
func (c *Client) OnAuthorized(fn func(models.Credential)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthorized = fn
}

// Address returns the host address this client is bound to.
func (c *Client) Address() string { return c.base }

// SetCredential installs a previously persisted credential pair.
func (c *Client) SetCredential(cred models.Credential) {
	c.session.SetCredential(cred)
}

// Credential returns the credential pair currently in use.
func (c *Client) Credential() models.Credential {
	return c.session.Credential()
}

// scope authorizes outgoing requests with the Digest session.
func (c *Client) scope() transport.Scope {
	return transport.ComposeScopes(
		transport.JSONScope(),
		transport.ScopeFunc(c.session.Authorize),
	)
}

// do issues a request and replays it once after a Digest challenge. The
// challenge's nonce resets the session counter; the retry carries the fresh
// Authorization header.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	url := c.base + path
	respBody, status, err := c.transport.Do(ctx, method, url, c.scope(), body)
	if err == nil || transport.KindOf(err) != transport.KindAuthRequired {
		return respBody, status, err
	}

	var te *transport.Error
	if !errors.As(err, &te) || !c.session.AcceptChallenge(te.Detail) {
		return respBody, status, err
	}
	if !c.session.Credential().Valid() {
		c.beginHandshake()
		return respBody, status, err
	}
	return c.transport.Do(ctx, method, url, c.scope(), body)
}

// beginHandshake starts the request/check credential flow in the background
// when the host demands auth and no credential pair is held. At most one
// handshake runs at a time; RequestAuth's attempt budget bounds the total
// per session. The operator approves the request on the printer itself, so
// the verdict is polled until it arrives or the poll budget runs out.
func (c *Client) beginHandshake() {
	c.mu.Lock()
	if c.pairing || c.authAttempts >= maxAuthRequests {
		c.mu.Unlock()
		return
	}
	c.pairing = true
	application, user := c.application, c.user
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.pairing = false
			c.mu.Unlock()
		}()

		ctx := context.Background()
		cred, err := c.RequestAuth(ctx, application, user)
		if err != nil {
			c.logger.Warn("credential request failed", zap.Error(err))
			return
		}
		for i := 0; i < c.authPollBudget; i++ {
			time.Sleep(c.authPollInterval)
			status, err := c.CheckAuth(ctx, cred.ID)
			if err != nil {
				c.logger.Warn("credential check failed", zap.Error(err))
				return
			}
			switch status {
			case AuthAuthorized:
				c.logger.Info("credential pair approved")
				c.mu.Lock()
				fn := c.onAuthorized
				c.mu.Unlock()
				if fn != nil {
					fn(cred)
				}
				return
			case AuthUnauthorized:
				c.logger.Info("credential pair denied")
				c.session.Clear()
				return
			}
		}
		c.logger.Warn("credential approval timed out")
	}()
}

// GetSystem fetches the printer system record.
func (c *Client) GetSystem(ctx context.Context) (*System, error) {
	body, _, err := c.do(ctx, http.MethodGet, apiPrefix+"/system", nil)
	if err != nil {
		return nil, err
	}
	var sys System
	if err := transport.DecodeJSON(body, &sys); err != nil {
		return nil, err
	}
	return &sys, nil
}

// GetMaterials lists the material profiles installed on the cluster.
func (c *Client) GetMaterials(ctx context.Context) ([]models.ClusterMaterial, error) {
	body, _, err := c.do(ctx, http.MethodGet, clusterPrefix+"/materials", nil)
	if err != nil {
		return nil, err
	}
	var out []models.ClusterMaterial
	if err := transport.DecodeJSON(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPrinters lists the cluster's printers.
func (c *Client) GetPrinters(ctx context.Context) ([]*models.Printer, error) {
	body, _, err := c.do(ctx, http.MethodGet, clusterPrefix+"/printers", nil)
	if err != nil {
		return nil, err
	}
	var out []*models.Printer
	if err := transport.DecodeJSON(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPrintJobs lists the cluster's print jobs in queue order.
func (c *Client) GetPrintJobs(ctx context.Context) ([]*models.PrintJob, error) {
	body, _, err := c.do(ctx, http.MethodGet, clusterPrefix+"/print_jobs", nil)
	if err != nil {
		return nil, err
	}
	var out []*models.PrintJob
	if err := transport.DecodeJSON(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MovePrintJobToTop reorders a queued job to the front of the queue.
func (c *Client) MovePrintJobToTop(ctx context.Context, uuid string) error {
	body, err := json.Marshal(map[string]any{"to_position": 0, "list": "queued"})
	if err != nil {
		return err
	}
	_, _, err = c.do(ctx, http.MethodPost, clusterPrefix+"/print_jobs/"+uuid+"/action/move", body)
	return c.swallowServerError(err, "move print job")
}

// ForcePrintJob starts a job despite unresolved configuration changes.
func (c *Client) ForcePrintJob(ctx context.Context, uuid string) error {
	body, err := json.Marshal(map[string]bool{"force": true})
	if err != nil {
		return err
	}
	_, _, err = c.do(ctx, http.MethodPut, clusterPrefix+"/print_jobs/"+uuid, body)
	return c.swallowServerError(err, "force print job")
}

// DeletePrintJob removes a job from the queue.
func (c *Client) DeletePrintJob(ctx context.Context, uuid string) error {
	_, _, err := c.do(ctx, http.MethodDelete, clusterPrefix+"/print_jobs/"+uuid, nil)
	return c.swallowServerError(err, "delete print job")
}

// SetPrintJobState pauses, resumes, or aborts a job. The cluster API has no
// "resume" verb; callers saying resume get "print" on the wire.
func (c *Client) SetPrintJobState(ctx context.Context, uuid, action string) error {
	if action == "resume" {
		action = "print"
	}
	body, err := json.Marshal(map[string]string{"action": action})
	if err != nil {
		return err
	}
	_, _, err = c.do(ctx, http.MethodPut, clusterPrefix+"/print_jobs/"+uuid+"/action", body)
	return c.swallowServerError(err, "set print job state")
}

// GetPreviewImage fetches the raw preview image bytes for a job. A 404 is
// returned as-is; previews are optional and callers skip them silently.
func (c *Client) GetPreviewImage(ctx context.Context, uuid string) ([]byte, error) {
	body, _, err := c.do(ctx, http.MethodGet, clusterPrefix+"/print_jobs/"+uuid+"/preview_image", nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// RequestAuth asks the printer to issue a credential pair. The pair becomes
// usable only after the operator approves it on the printer; poll CheckAuth
// for the verdict. At most 5 requests are issued per session.
func (c *Client) RequestAuth(ctx context.Context, application, user string) (models.Credential, error) {
	c.mu.Lock()
	if c.authAttempts >= maxAuthRequests {
		c.mu.Unlock()
		return models.Credential{}, fmt.Errorf("auth request limit reached (%d)", maxAuthRequests)
	}
	c.authAttempts++
	c.mu.Unlock()

	body, err := json.Marshal(map[string]string{"application": application, "user": user})
	if err != nil {
		return models.Credential{}, err
	}
	respBody, _, err := c.do(ctx, http.MethodPost, apiPrefix+"/auth/request", body)
	if err != nil {
		return models.Credential{}, err
	}
	var cred models.Credential
	if err := transport.DecodeJSON(respBody, &cred); err != nil {
		return models.Credential{}, err
	}
	c.session.SetCredential(cred)
	return cred, nil
}

// CheckAuth polls the verdict on a pending credential request.
func (c *Client) CheckAuth(ctx context.Context, id string) (AuthStatus, error) {
	body, _, err := c.do(ctx, http.MethodGet, apiPrefix+"/auth/check/"+id, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := transport.DecodeJSON(body, &resp); err != nil {
		return "", err
	}
	return AuthStatus(resp.Message), nil
}

// VerifyAuth checks whether the stored credential pair is accepted. A 403
// means the operator revoked it: the pair is cleared and the caller should
// restart the handshake.
func (c *Client) VerifyAuth(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodGet, apiPrefix+"/auth/verify", nil)
	if err != nil && transport.KindOf(err) == transport.KindAuthDenied {
		c.session.Clear()
	}
	return err
}

// UploadPrintJob posts a sliced payload to the cluster queue. An empty
// requirePrinterName lets the cluster schedule freely; a set one pins the
// job to that printer.
func (c *Client) UploadPrintJob(ctx context.Context, owner, filename string, payload []byte, requirePrinterName string, progress transport.ProgressFunc) error {
	parts := []transport.Part{
		{FieldName: "owner", Body: []byte(owner)},
		{FieldName: "file", FileName: filename, Body: payload},
	}
	if requirePrinterName != "" {
		parts = append(parts, transport.Part{FieldName: "require_printer_name", Body: []byte(requirePrinterName)})
	}
	_, _, err := c.transport.PostForm(ctx, c.base+clusterPrefix+"/print_jobs/", c.scope(), parts, progress)
	return err
}

// UploadMaterial posts one material profile, with its detached signature
// when one exists.
func (c *Client) UploadMaterial(ctx context.Context, filename string, body []byte, sigFilename string, sigBody []byte) ([]byte, error) {
	parts := []transport.Part{
		{FieldName: "file", FileName: filename, Body: body},
	}
	if sigFilename != "" {
		parts = append(parts, transport.Part{FieldName: "signature_file", FileName: sigFilename, Body: sigBody})
	}
	respBody, _, err := c.transport.PostForm(ctx, c.base+clusterPrefix+"/materials/", c.scope(), parts, nil)
	return respBody, err
}

// swallowServerError absorbs 500s (logged, the next poll shows the real
// state) and 404s on queue endpoints older firmware does not expose.
func (c *Client) swallowServerError(err error, op string) error {
	if err == nil {
		return nil
	}
	switch transport.StatusOf(err) {
	case http.StatusInternalServerError:
		c.logger.Warn("cluster returned 500, ignoring", zap.String("op", op), zap.Error(err))
		return nil
	case http.StatusNotFound:
		c.logger.Debug("endpoint not available on this firmware", zap.String("op", op))
		return nil
	}
	return err
}
