// Package processing converts committed IFC sources into viewer artifacts.
//
// The geometry translation and property extraction themselves are opaque
// collaborators injected as functions; this package owns the surrounding
// pipeline of blob I/O, artifact File records and extraction persistence.
package processing

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/queue"
	"github.com/octantbim/octant/pkg/store"
)

// JobTypeProcessIfc converts one model version's IFC source into both
// artifacts.
const JobTypeProcessIfc = "process_ifc"

// GeometryTranslator renders an IFC stream as viewer geometry.
type GeometryTranslator func(ctx context.Context, ifc io.Reader, out io.Writer) error

// PropertyExtractor parses an IFC stream, returning the extracted elements
// and writing the serialized properties artifact.
type PropertyExtractor func(ctx context.Context, ifc io.Reader, out io.Writer) ([]store.ElementRecord, error)

// Processor is the queue handler producing both artifacts for a version.
type Processor struct {
	store     store.Store
	blobs     blob.Store
	geometry  GeometryTranslator
	extractor PropertyExtractor
}

// NewProcessor wires the pipeline around the injected translators.
func NewProcessor(s store.Store, blobs blob.Store, geometry GeometryTranslator, extractor PropertyExtractor) *Processor {
	return &Processor{store: s, blobs: blobs, geometry: geometry, extractor: extractor}
}

// Handle runs both conversions and records their artifacts. Blob and store
// failures are transient (the job stays re-deliverable); translator failures
// are permanent and settle the version Failed.
func (p *Processor) Handle(ctx context.Context, e queue.Envelope) (*queue.Result, error) {
	source, err := p.store.GetFile(ctx, e.Payload.IfcFileID)
	if err != nil {
		return nil, errors.NewTransient("loading source file record", err)
	}

	wexBimKey := model.ArtifactKey(e.Payload.WorkspaceID, e.Payload.ProjectID, e.Payload.ModelVersionID, ".wexbim")
	wexBimSize, err := p.translateGeometry(ctx, source.StorageKey, wexBimKey)
	if err != nil {
		return nil, err
	}

	propsKey := model.ArtifactKey(e.Payload.WorkspaceID, e.Payload.ProjectID, e.Payload.ModelVersionID, ".properties.db")
	elements, propsSize, err := p.extractProperties(ctx, source.StorageKey, propsKey)
	if err != nil {
		return nil, err
	}

	if err := p.store.ReplaceExtraction(ctx, e.Payload.ModelVersionID, elements); err != nil {
		return nil, errors.NewTransient("storing extracted properties", err)
	}

	now := time.Now().UTC()
	wexBimFile := &model.File{
		ID:              uuid.New(),
		ProjectID:       e.Payload.ProjectID,
		Name:            fmt.Sprintf("%s.wexbim", e.Payload.ModelVersionID),
		ContentType:     "application/octet-stream",
		SizeBytes:       wexBimSize,
		Kind:            model.FileKindArtifact,
		Category:        model.FileCategoryWexBim,
		StorageProvider: p.blobs.Provider(),
		StorageKey:      wexBimKey,
		CreatedAt:       now,
	}
	propsFile := &model.File{
		ID:              uuid.New(),
		ProjectID:       e.Payload.ProjectID,
		Name:            fmt.Sprintf("%s.properties.db", e.Payload.ModelVersionID),
		ContentType:     "application/octet-stream",
		SizeBytes:       propsSize,
		Kind:            model.FileKindArtifact,
		Category:        model.FileCategoryProperties,
		StorageProvider: p.blobs.Provider(),
		StorageKey:      propsKey,
		CreatedAt:       now,
	}
	if err := p.store.CreateFile(ctx, wexBimFile); err != nil {
		return nil, errors.NewTransient("storing wexbim artifact record", err)
	}
	if err := p.store.CreateFile(ctx, propsFile); err != nil {
		return nil, errors.NewTransient("storing properties artifact record", err)
	}

	return &queue.Result{WexBimFileID: wexBimFile.ID, PropertiesFileID: propsFile.ID}, nil
}

// translateGeometry streams the source through the geometry translator into
// the artifact key without buffering the whole file.
func (p *Processor) translateGeometry(ctx context.Context, sourceKey, artifactKey string) (int64, error) {
	source, err := p.blobs.Get(ctx, sourceKey)
	if err != nil {
		return 0, errors.NewTransient("opening source blob", err)
	}
	defer func() { _ = source.Close() }()

	pr, pw := io.Pipe()
	var size int64
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() { _ = pw.Close() }()
		if err := p.geometry(ctx, source, pw); err != nil {
			_ = pw.CloseWithError(err)
			return errors.NewPermanent("geometry translation failed", err)
		}
		return nil
	})
	g.Go(func() error {
		n, err := p.blobs.Put(ctx, artifactKey, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
			return errors.NewTransient("writing wexbim artifact", err)
		}
		size = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return size, nil
}

// extractProperties streams the source through the extractor into the
// properties artifact key.
func (p *Processor) extractProperties(ctx context.Context, sourceKey, artifactKey string) ([]store.ElementRecord, int64, error) {
	source, err := p.blobs.Get(ctx, sourceKey)
	if err != nil {
		return nil, 0, errors.NewTransient("opening source blob", err)
	}
	defer func() { _ = source.Close() }()

	pr, pw := io.Pipe()
	var (
		elements []store.ElementRecord
		size     int64
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() { _ = pw.Close() }()
		extracted, err := p.extractor(ctx, source, pw)
		if err != nil {
			_ = pw.CloseWithError(err)
			return errors.NewPermanent("property extraction failed", err)
		}
		elements = extracted
		return nil
	})
	g.Go(func() error {
		n, err := p.blobs.Put(ctx, artifactKey, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
			return errors.NewTransient("writing properties artifact", err)
		}
		size = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return elements, size, nil
}

// PassthroughGeometry copies the IFC bytes unchanged. It stands in for a
// real converter in single-binary deployments and tests.
func PassthroughGeometry(_ context.Context, ifc io.Reader, out io.Writer) error {
	_, err := io.Copy(out, ifc)
	return err
}

// NoopExtractor drains the source and writes an empty properties artifact.
func NoopExtractor(_ context.Context, ifc io.Reader, _ io.Writer) ([]store.ElementRecord, error) {
	if _, err := io.Copy(io.Discard, ifc); err != nil {
		return nil, err
	}
	return nil, nil
}
