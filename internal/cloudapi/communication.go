package cloudapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// communicationFilePath is the well-known remote path every device reads
// and writes to coordinate merge leases; it is the sole cross-device
// coordination point for conflict resolution.
const communicationFilePath = ".vaultsync/communication.json"

// CommunicationFile adapts RESTAdapter to conflict.CommunicationFile,
// reading and atomically replacing the single shared communication file.
type CommunicationFile struct {
	adapter  *RESTAdapter
	rootID   string
	filePath string
}

// NewCommunicationFile returns a conflict.CommunicationFile backed by the
// adapter's remote vault. rootID is the parent folder the communication
// file lives under (normally the vault root).
func NewCommunicationFile(adapter *RESTAdapter, rootID string) *CommunicationFile {
	return &CommunicationFile{adapter: adapter, rootID: rootID, filePath: communicationFilePath}
}

// Read returns the communication file's current bytes, or an error if it
// does not exist yet (the caller's lease bookkeeping treats any Read
// error as "not created yet" and starts from an empty lease set).
func (c *CommunicationFile) Read() ([]byte, error) {
	ctx := context.Background()
	item, ok, err := c.adapter.StatByPath(ctx, c.filePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("cloudapi: communication file does not exist")
	}

	var buf bytes.Buffer
	if _, err := c.adapter.Download(ctx, item.ID, &buf); err != nil {
		return nil, fmt.Errorf("cloudapi: reading communication file: %w", err)
	}
	return buf.Bytes(), nil
}

// Write atomically replaces the communication file's contents.
func (c *CommunicationFile) Write(data []byte) error {
	ctx := context.Background()
	_, err := c.adapter.Upload(ctx, c.rootID, c.filePath, int64(len(data)), io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("cloudapi: writing communication file: %w", err)
	}
	return nil
}
