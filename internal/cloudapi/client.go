// Package cloudapi is the typed client for the cloud REST surface: cluster
// enumeration and status under /connect/v1, upload and job registration
// under /cura/v1.
package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/transport"
	"github.com/printnest/printnest/pkg/models"
)

const (
	connectPrefix = "/connect/v1"
	curaPrefix    = "/cura/v1"
)

// ErrNotLoggedIn is returned when a request is attempted without an active
// cloud session.
var ErrNotLoggedIn = errors.New("cloudapi: account is not logged in")

// machineTypeNames converts internal machine slugs to the pretty names the
// cloud filters on. Slugs missing here are prettified mechanically.
var machineTypeNames = map[string]string{
	"corvus3":          "Corvus 3",
	"corvus3_extended": "Corvus 3 Extended",
	"corvus_s5":        "Corvus S5",
	"corvus_s3":        "Corvus S3",
}

// ClusterStatus is the combined printers/jobs snapshot for one cluster.
type ClusterStatus struct {
	Printers      []*models.Printer  `json:"printers"`
	PrintJobs     []*models.PrintJob `json:"print_jobs"`
	GeneratedTime time.Time          `json:"generated_time"`
}

// UploadTarget is the cloud's answer to an upload request: where to PUT the
// payload and the job id to print afterwards.
type UploadTarget struct {
	JobID       string `json:"job_id"`
	UploadURL   string `json:"upload_url"`
	ContentType string `json:"content_type"`
}

// Client talks to the cloud on behalf of one account.
type Client struct {
	transport *transport.Client
	root      string // e.g. "https://api.example.com"
	account   Account
	logger    *zap.Logger
}

// NewClient creates a cloud client rooted at root.
func NewClient(t *transport.Client, root string, account Account, logger *zap.Logger) *Client {
	return &Client{
		transport: t,
		root:      strings.TrimRight(root, "/"),
		account:   account,
		logger:    logger,
	}
}

// Account returns the account collaborator.
func (c *Client) Account() Account { return c.account }

func (c *Client) scope() transport.Scope {
	return transport.ComposeScopes(
		transport.JSONScope(),
		transport.BearerScope(c.account.AccessToken),
	)
}

// guard refuses requests while no user is logged in.
func (c *Client) guard() error {
	if !c.account.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return nil
}

// GetClusters lists the active clusters linked to the account.
func (c *Client) GetClusters(ctx context.Context) ([]models.Cluster, error) {
	return c.getClusterList(ctx, c.root+connectPrefix+"/clusters?status=active")
}

// GetClustersByMachineType lists active clusters of one machine type. The
// slug is converted to the cloud's pretty name before filtering.
func (c *Client) GetClustersByMachineType(ctx context.Context, machineType string) ([]models.Cluster, error) {
	pretty := PrettyMachineType(machineType)
	return c.getClusterList(ctx, c.root+connectPrefix+"/clusters?machine_variant="+url.QueryEscape(pretty))
}

func (c *Client) getClusterList(ctx context.Context, url string) ([]models.Cluster, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	body, _, err := c.transport.Get(ctx, url, c.scope())
	if err != nil {
		return nil, err
	}
	var clusters []models.Cluster
	if err := c.decodeData(body, &clusters); err != nil {
		return nil, err
	}
	return clusters, nil
}

// GetClusterStatus fetches the printers and print jobs of one cluster.
func (c *Client) GetClusterStatus(ctx context.Context, clusterID string) (*ClusterStatus, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	body, _, err := c.transport.Get(ctx, c.root+connectPrefix+"/clusters/"+clusterID+"/status", c.scope())
	if err != nil {
		return nil, err
	}
	var status ClusterStatus
	if err := c.decodeData(body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestUpload registers an upcoming payload and returns the signed upload
// slot.
func (c *Client) RequestUpload(ctx context.Context, jobName string, fileSize int, contentType string) (*UploadTarget, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	reqBody, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"job_name":     jobName,
			"file_size":    fileSize,
			"content_type": contentType,
		},
	})
	if err != nil {
		return nil, err
	}
	body, _, err := c.transport.Put(ctx, c.root+curaPrefix+"/jobs/upload", c.scope(), reqBody)
	if err != nil {
		return nil, err
	}
	var target UploadTarget
	if err := c.decodeData(body, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

// RequestPrint dispatches an uploaded job to a cluster. A 409 surfaces as
// KindConflict: the cluster's queue is full.
func (c *Client) RequestPrint(ctx context.Context, clusterID, jobID string) error {
	if err := c.guard(); err != nil {
		return err
	}
	_, _, err := c.transport.Post(ctx, c.root+connectPrefix+"/clusters/"+clusterID+"/print/"+jobID, c.scope(), nil)
	return err
}

// DoPrintJobAction sends a job action (pause, resume, abort, move, remove,
// force) through the cloud's unified action channel. data carries
// action-specific parameters and may be nil.
func (c *Client) DoPrintJobAction(ctx context.Context, clusterID, clusterJobID, action string, data map[string]any) error {
	if err := c.guard(); err != nil {
		return err
	}
	var body []byte
	if data != nil {
		var err error
		if body, err = json.Marshal(map[string]any{"data": data}); err != nil {
			return err
		}
	}
	_, _, err := c.transport.Post(ctx,
		c.root+connectPrefix+"/clusters/"+clusterID+"/print_jobs/"+clusterJobID+"/action/"+action,
		c.scope(), body)
	return err
}

// decodeData unwraps the {data: …} success envelope into target. A data
// object whose status is "wait_approval" stands in for an empty list: the
// account exists but the cloud has not finished provisioning it.
func (c *Client) decodeData(body []byte, target any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		c.logger.Warn("cloud response without data envelope", zap.String("body", trim(body)))
		return &transport.Error{Kind: transport.KindUnparseableBody, Detail: trim(body)}
	}

	if err := json.Unmarshal(envelope.Data, target); err == nil {
		return nil
	}

	var pending struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(envelope.Data, &pending) == nil && pending.Status == "wait_approval" {
		// Leave target at its zero value: treated as an empty enumeration.
		return nil
	}

	c.logger.Warn("cloud response with unexpected data shape", zap.String("body", trim(body)))
	return &transport.Error{Kind: transport.KindUnparseableBody, Detail: trim(body)}
}

// PrettyMachineType converts an internal machine slug to the cloud's
// display name: table lookup first, then underscores to spaces with each
// word title-cased. A trailing "+" survives the conversion.
func PrettyMachineType(slug string) string {
	if name, ok := machineTypeNames[slug]; ok {
		return name
	}
	words := strings.Split(slug, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func trim(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}

// StatusIsQueueFull reports whether err is the cloud's queue-full conflict.
func StatusIsQueueFull(err error) bool {
	return transport.StatusOf(err) == http.StatusConflict
}
