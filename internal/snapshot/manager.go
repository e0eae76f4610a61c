// Package snapshot creates, downloads and restores collection snapshots.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/efebarandurmaz/snapcheck/internal/rest"
)

// Manager drives the snapshot endpoints of one service.
type Manager struct {
	rest *rest.Client
}

// NewManager creates a Manager.
func NewManager(c *rest.Client) *Manager {
	return &Manager{rest: c}
}

// Create snapshots a collection and waits until the snapshot is downloadable.
// A response without result.name fails with rest.ErrMissingField.
func (m *Manager) Create(ctx context.Context, collection string) (*Descriptor, error) {
	var desc Descriptor
	err := m.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   rest.Path("collections", collection, "snapshots"),
		Query:  url.Values{"wait": {"true"}},
		JSON:   struct{}{},
	}, &desc)
	if err != nil {
		return nil, fmt.Errorf("create snapshot of %s: %w", collection, err)
	}
	if strings.TrimSpace(desc.Name) == "" {
		return nil, fmt.Errorf("create snapshot of %s: %w", collection, rest.MissingField("result.name"))
	}
	desc.Collection = collection
	return &desc, nil
}

// List returns the snapshots the service holds for a collection.
func (m *Manager) List(ctx context.Context, collection string) ([]Descriptor, error) {
	var descs []Descriptor
	if err := m.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   rest.Path("collections", collection, "snapshots"),
	}, &descs); err != nil {
		return nil, fmt.Errorf("list snapshots of %s: %w", collection, err)
	}
	for i := range descs {
		descs[i].Collection = collection
	}
	return descs, nil
}

// Download fetches the snapshot bytes. When the descriptor carries a
// checksum the bytes must match it.
func (m *Manager) Download(ctx context.Context, desc *Descriptor) (Blob, error) {
	body, err := m.rest.DoRaw(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   rest.Path("collections", desc.Collection, "snapshots", desc.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("download snapshot %s: %w", desc.Name, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("download snapshot %s: %w", desc.Name, ErrEmptySnapshot)
	}
	blob := Blob(body)
	if desc.Checksum != "" && !strings.EqualFold(desc.Checksum, blob.Checksum()) {
		return nil, fmt.Errorf("download snapshot %s: %w: want %s, got %s", desc.Name, ErrChecksumMismatch, desc.Checksum, blob.Checksum())
	}
	return blob, nil
}

// Delete removes a snapshot from the service.
func (m *Manager) Delete(ctx context.Context, desc *Descriptor) error {
	if err := m.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   rest.Path("collections", desc.Collection, "snapshots", desc.Name),
		Query:  url.Values{"wait": {"true"}},
	}, nil); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", desc.Name, err)
	}
	return nil
}

// Recover dispatches to the location or upload path depending on the request.
func (m *Manager) Recover(ctx context.Context, req RecoveryRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", rest.ErrInvalidArgument, err)
	}
	if req.Location != "" {
		return m.RecoverFromLocation(ctx, req.Target, req.Location, req.Priority)
	}
	return m.RecoverFromBlob(ctx, req.Target, req.BlobName, req.Blob, req.Priority)
}

// RecoverFromLocation asks the service to fetch the snapshot at location
// itself and restore it into target.
func (m *Manager) RecoverFromLocation(ctx context.Context, target, location string, priority Priority) error {
	body := map[string]string{"location": location}
	if priority != PriorityDefault {
		body["priority"] = string(priority)
	}
	if err := m.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodPut,
		Path:   rest.Path("collections", target, "snapshots", "recover"),
		Query:  url.Values{"wait": {"true"}},
		JSON:   body,
	}, nil); err != nil {
		return fmt.Errorf("recover %s from location: %w", target, err)
	}
	return nil
}

// RecoverFromBlob uploads the snapshot bytes as multipart field "snapshot"
// and restores them into target.
func (m *Manager) RecoverFromBlob(ctx context.Context, target, filename string, blob Blob, priority Priority) error {
	if filename == "" {
		filename = target + ".snapshot"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("snapshot", filename)
	if err != nil {
		return fmt.Errorf("recover %s from upload: %w", target, err)
	}
	if _, err := part.Write(blob); err != nil {
		return fmt.Errorf("recover %s from upload: %w", target, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("recover %s from upload: %w", target, err)
	}

	query := url.Values{"wait": {"true"}}
	if priority != PriorityDefault {
		query.Set("priority", string(priority))
	}
	if err := m.rest.DoJSON(ctx, rest.Request{
		Method:      http.MethodPost,
		Path:        rest.Path("collections", target, "snapshots", "upload"),
		Query:       query,
		Body:        buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	}, nil); err != nil {
		return fmt.Errorf("recover %s from upload: %w", target, err)
	}
	return nil
}

// LocationURL is the address the service dereferences to fetch a snapshot.
// selfBase is how the service reaches its own API, which may differ from
// the endpoint snapcheck uses.
func LocationURL(selfBase, collection, name string) (string, error) {
	u, err := url.Parse(selfBase)
	if err != nil {
		return "", fmt.Errorf("parse self url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: self url %q needs scheme and host", rest.ErrInvalidArgument, selfBase)
	}
	rest.AppendPath(u, rest.Path("collections", collection, "snapshots", name))
	u.RawQuery = ""
	return u.String(), nil
}
