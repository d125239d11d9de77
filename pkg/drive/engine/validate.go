package engine

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/marmos91/dittodrive/pkg/drive"
)

// MaxNameLength bounds folder and file names.
const MaxNameLength = 255

// DefaultMimeType is recorded for descriptors that carry no MIME type.
const DefaultMimeType = "application/octet-stream"

// normalizeFolderName trims the name and rejects it when nothing is left.
func normalizeFolderName(name string) (string, error) {
	name = strings.TrimSpace(name)
	err := validation.Validate(name,
		validation.Required.Error("folder name must not be empty"),
		validation.RuneLength(1, MaxNameLength).Error("folder name is too long"),
	)
	if err != nil {
		return "", drive.NewValidationError("%s", err.Error())
	}
	return name, nil
}

// normalizeDescriptor validates one ingest descriptor and returns the copy
// that will be stored.
func normalizeDescriptor(d drive.FileDescriptor) (drive.FileDescriptor, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.MimeType = strings.TrimSpace(d.MimeType)

	err := validation.ValidateStruct(&d,
		validation.Field(&d.Name,
			validation.Required,
			validation.RuneLength(1, MaxNameLength),
		),
		validation.Field(&d.SizeBytes, validation.Min(int64(0))),
		validation.Field(&d.MimeType, validation.RuneLength(0, MaxNameLength)),
	)
	if err != nil {
		return d, drive.NewValidationError("invalid file descriptor: %s", err.Error())
	}

	if d.MimeType == "" {
		d.MimeType = DefaultMimeType
	}
	return d, nil
}
