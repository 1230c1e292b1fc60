package main

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/quietloop/vaultsync/internal/cloudapi"
)

// downloadLockFile fetches the E2EE lock file blob from the remote
// vault. exists=false (not an error) when no vault has been initialized.
func downloadLockFile(ctx context.Context, adapter *cloudapi.RESTAdapter) (string, bool, error) {
	item, ok, err := adapter.StatByPath(ctx, remoteLockPath)
	if err != nil {
		return "", false, fmt.Errorf("checking for lock file: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	var buf bytes.Buffer
	if _, err := adapter.Download(ctx, item.ID, &buf); err != nil {
		return "", false, fmt.Errorf("downloading lock file: %w", err)
	}
	return buf.String(), true, nil
}

// uploadLockFile writes the lock file blob to the remote vault, creating
// the hidden configuration folder if needed.
func uploadLockFile(ctx context.Context, adapter *cloudapi.RESTAdapter, blob string) error {
	parentID, err := ensureRemoteFolder(ctx, adapter, path.Dir(remoteLockPath))
	if err != nil {
		return err
	}
	data := []byte(blob)
	if _, err := adapter.Upload(ctx, parentID, path.Base(remoteLockPath), int64(len(data)), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("uploading lock file: %w", err)
	}
	return nil
}

// ensureRemoteFolder creates dir (and ancestors) on the remote vault and
// returns its folder ID; "" for the root.
func ensureRemoteFolder(ctx context.Context, adapter *cloudapi.RESTAdapter, dir string) (string, error) {
	if dir == "." || dir == "" {
		return "", nil
	}

	parentID := ""
	walked := ""
	for _, segment := range strings.Split(dir, "/") {
		if walked == "" {
			walked = segment
		} else {
			walked = walked + "/" + segment
		}

		item, ok, err := adapter.StatByPath(ctx, walked)
		if err != nil {
			return "", fmt.Errorf("statting remote folder %s: %w", walked, err)
		}
		if ok && item.IsFolder {
			parentID = item.ID
			continue
		}

		created, err := adapter.CreateFolder(ctx, parentID, segment)
		if err != nil {
			return "", fmt.Errorf("creating remote folder %s: %w", walked, err)
		}
		parentID = created.ID
	}
	return parentID, nil
}
