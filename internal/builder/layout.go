package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content/oci"
)

// tagLayout makes sure the OCI layout at path resolves tag and returns the
// digest of the tagged index
func tagLayout(ctx context.Context, path, tag string) (string, error) {
	store, err := oci.New(path)
	if err != nil {
		return "", fmt.Errorf("open OCI layout %s: %w", path, err)
	}

	if desc, err := store.Resolve(ctx, tag); err == nil {
		return desc.Digest.String(), nil
	}

	desc, err := rootDescriptor(path)
	if err != nil {
		return "", err
	}
	if err := store.Tag(ctx, desc, tag); err != nil {
		return "", fmt.Errorf("tag OCI layout as %s: %w", tag, err)
	}
	return desc.Digest.String(), nil
}

// rootDescriptor reads the first manifest entry of the layout's index.json
func rootDescriptor(path string) (ocispec.Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(path, ocispec.ImageIndexFile))
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("read OCI index: %w", err)
	}

	var index ocispec.Index
	if err := json.Unmarshal(data, &index); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("parse OCI index: %w", err)
	}
	if len(index.Manifests) == 0 {
		return ocispec.Descriptor{}, errors.New("OCI layout contains no manifests")
	}

	desc := index.Manifests[0]
	desc.Annotations = nil
	return desc, nil
}

// tagOf returns the tag portion of ref, or "latest"
func tagOf(ref string) string {
	if i := strings.LastIndex(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	slash := strings.LastIndex(ref, "/")
	if colon := strings.LastIndex(ref, ":"); colon > slash {
		return ref[colon+1:]
	}
	return "latest"
}

// layoutDirName turns an image reference into a filesystem-safe directory name
func layoutDirName(ref string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "@", "_")
	return r.Replace(ref)
}
