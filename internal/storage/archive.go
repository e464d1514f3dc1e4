package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/enrollflow/internal/artifact"
	"github.com/timmy/enrollflow/internal/domain"
	"github.com/timmy/enrollflow/internal/logger"
)

// Archive copies run artifacts to object storage under
// <prefix>/<correlationId>/<basename>.
type Archive struct {
	store  ObjectStorage
	prefix string
}

// NewArchive creates an Archive.
func NewArchive(store ObjectStorage, prefix string) *Archive {
	return &Archive{store: store, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a local file of a run.
func (a *Archive) Key(correlationID, localPath string) string {
	return path.Join(a.prefix, correlationID, filepath.Base(localPath))
}

// Store uploads every named file and returns name -> URL for those stored.
// A file that fails is skipped; the returned error joins every failure.
func (a *Archive) Store(ctx context.Context, correlationID string, files map[string]string) (domain.ArtifactMap, error) {
	names := make([]string, 0, len(files))
	for name, p := range files {
		if p != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := domain.ArtifactMap{}
	var errs []error
	for _, name := range names {
		url, err := a.storeOne(ctx, correlationID, files[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[name] = url
	}
	if len(out) > 0 {
		logger.With(logger.Fields{logger.FieldCorrelationID: correlationID}).
			WithCount(int64(len(out))).
			Info(ctx, "Archived run artifacts")
	}
	return out, errors.Join(errs...)
}

func (a *Archive) storeOne(ctx context.Context, correlationID, localPath string) (string, error) {
	info, err := artifact.Inspect(localPath)
	if err != nil {
		return "", err
	}
	key := a.Key(correlationID, localPath)

	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return a.store.GetURL(key), nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := a.store.Upload(ctx, key, f, info.Size, info.ContentType); err != nil {
		return "", err
	}
	return a.store.GetURL(key), nil
}
