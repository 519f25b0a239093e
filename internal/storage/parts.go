package storage

import (
	"bytes"
	"context"
	"path"
	"path/filepath"
	"sync"
)

// PartSaver stores the exported parts of one job under <jobID>/<filename>.
// Every part is written locally so it can be downloaded; when pushToS3 is
// set it is also uploaded and the S3 URL becomes its location.
// It is safe for concurrent use.
type PartSaver struct {
	store       Storage
	jobID       string
	pushToS3    bool
	contentType string

	mu    sync.Mutex
	local map[string]string
}

// NewPartSaver returns a PartSaver for jobID.
func NewPartSaver(store Storage, jobID, contentType string, pushToS3 bool) *PartSaver {
	return &PartSaver{
		store:       store,
		jobID:       jobID,
		pushToS3:    pushToS3,
		contentType: contentType,
		local:       make(map[string]string),
	}
}

// Save writes one part and returns its location: the S3 URL when uploading,
// otherwise the local path.
func (p *PartSaver) Save(ctx context.Context, filename string, data []byte) (string, error) {
	localPath, err := p.store.SaveFile(ctx, filepath.Join(p.jobID, filename), bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.local[filename] = localPath
	p.mu.Unlock()

	if !p.pushToS3 {
		return localPath, nil
	}
	return p.store.UploadToS3(ctx, path.Join(p.jobID, filename), p.contentType, bytes.NewReader(data))
}

// LocalPath returns where filename was written on disk, if it was.
func (p *PartSaver) LocalPath(filename string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lp, ok := p.local[filename]
	return lp, ok
}
