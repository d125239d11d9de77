package facade

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/engine"
	"github.com/marmos91/dittodrive/pkg/store/content"
)

// sniffLen is how many leading bytes are inspected to detect a MIME type.
const sniffLen = 3072

// UploadSource is one file to upload.
type UploadSource struct {
	// Name is the file name shown in the drive
	Name string

	// MimeType is the declared type. Empty or application/octet-stream
	// means "detect from content".
	MimeType string

	// Body is read to the end and stored in the content store
	Body io.Reader
}

// Upload stores the bytes of each source in the content store and ingests
// the resulting files under parentID.
//
// Sizes come from the bytes actually stored, never from the caller. Sources
// whose descriptor is rejected by the engine (blank name, ...) keep their
// slot in Rejected and their content is removed again. If any write or the
// ingest itself fails, every byte written by this call is removed.
func (d *Drive) Upload(ctx context.Context, parentID string, sources []UploadSource) (res engine.IngestResult, err error) {
	if d.content == nil {
		return engine.IngestResult{}, ErrNoContentStore
	}

	written := make([]content.ID, 0, len(sources))
	defer func() {
		for _, id := range written {
			d.donePending(id)
		}
	}()

	// cleanup removes content that did not end up referenced
	cleanup := func(ids []content.ID) {
		for _, id := range ids {
			if derr := d.content.Delete(context.WithoutCancel(ctx), id); derr != nil {
				logger.Warn("Failed to remove unreferenced upload %s: %v", id, derr)
			}
		}
	}

	// Step 1: store the bytes
	descriptors := make([]drive.FileDescriptor, 0, len(sources))
	for i, src := range sources {
		id := content.NewID()
		d.addPending(id)
		written = append(written, id)

		mime, body, serr := sniff(src)
		if serr != nil {
			cleanup(written)
			return engine.IngestResult{}, fmt.Errorf("read upload %d (%s): %w", i, src.Name, serr)
		}

		n, werr := d.content.WriteContent(ctx, id, body)
		if werr != nil {
			cleanup(written)
			return engine.IngestResult{}, fmt.Errorf("store upload %d (%s): %w", i, src.Name, werr)
		}

		descriptors = append(descriptors, drive.FileDescriptor{
			Name:       src.Name,
			MimeType:   mime,
			SizeBytes:  n,
			ContentRef: string(id),
		})
	}

	// Step 2: ingest
	res, err = d.engine.IngestFiles(ctx, descriptors, parentID)
	if err != nil {
		cleanup(written)
		return engine.IngestResult{}, err
	}

	// Step 3: drop the content of rejected descriptors
	if len(res.Rejected) > 0 {
		rejected := make([]content.ID, 0, len(res.Rejected))
		for _, r := range res.Rejected {
			rejected = append(rejected, written[r.Index])
		}
		cleanup(rejected)
	}

	if len(res.Files) > 0 {
		d.persist(ctx)
	}
	return res, nil
}

// sniff returns the MIME type of src and a reader yielding its full body.
// A declared specific type wins over detection.
func sniff(src UploadSource) (string, io.Reader, error) {
	declared := strings.TrimSpace(src.MimeType)
	if declared != "" && declared != "application/octet-stream" {
		return declared, src.Body, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]

	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), src.Body), nil
}
