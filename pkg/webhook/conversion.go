package webhook

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	VersionV1 = "v1"
	VersionV2 = "v2"
)

var supportedVersions = []string{VersionV1, VersionV2}

// ParseTargetVersion parses a desired API version, either bare ("v2") or
// group-qualified ("aivenapplications.aiven.nais.io/v2").
func ParseTargetVersion(desiredAPIVersion string) (schema.GroupVersion, error) {
	gv, err := schema.ParseGroupVersion(desiredAPIVersion)
	if err != nil || !slices.Contains(supportedVersions, gv.Version) {
		return schema.GroupVersion{}, fmt.Errorf("%w %q: supported versions are %s",
			ErrUnsupportedTarget, desiredAPIVersion, strings.Join(supportedVersions, ", "))
	}
	return gv, nil
}

// Migrate returns a copy of raw rewritten to desiredAPIVersion. raw is never modified.
func Migrate(raw []byte, desiredAPIVersion string) ([]byte, error) {
	target, err := ParseTargetVersion(desiredAPIVersion)
	if err != nil {
		return nil, err
	}
	return migrate(raw, target)
}

func migrate(raw []byte, target schema.GroupVersion) ([]byte, error) {
	source, err := sourceVersion(raw)
	if err != nil {
		return nil, err
	}
	if source.Group != target.Group {
		return nil, fmt.Errorf("%w: object is in group %q, desired group is %q",
			ErrUnsupportedSourceVersion, source.Group, target.Group)
	}

	if err := checkSpecShape(raw); err != nil {
		return nil, err
	}

	out := raw
	switch {
	case source.Version == VersionV1 && target.Version == VersionV2:
		if out, err = convertV1ToV2(raw); err != nil {
			return nil, err
		}
	default:
		// v2 to v1 is backward compatible, and same-version requests only
		// need the version tag.
	}

	out, err = sjson.SetBytes(out, "apiVersion", target.String())
	if err != nil {
		return nil, fmt.Errorf("failed to set apiVersion: %w", err)
	}
	return out, nil
}

func sourceVersion(raw []byte) (schema.GroupVersion, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return schema.GroupVersion{}, fmt.Errorf("%w: object is not a JSON object", ErrMalformedVersion)
	}

	apiVersion := gjson.GetBytes(raw, "apiVersion")
	if !apiVersion.Exists() {
		return schema.GroupVersion{}, fmt.Errorf("%w: apiVersion is missing", ErrMalformedVersion)
	}
	if apiVersion.Type != gjson.String {
		return schema.GroupVersion{}, fmt.Errorf("%w: apiVersion must be a string", ErrMalformedVersion)
	}

	gv, err := schema.ParseGroupVersion(apiVersion.Str)
	if err != nil || gv.Version == "" {
		return schema.GroupVersion{}, fmt.Errorf("%w: cannot parse %q", ErrMalformedVersion, apiVersion.Str)
	}
	if !slices.Contains(supportedVersions, gv.Version) {
		return schema.GroupVersion{}, fmt.Errorf("%w %q", ErrUnsupportedSourceVersion, apiVersion.Str)
	}
	return gv, nil
}

// checkSpecShape rejects a spec that is present but neither null nor an object.
// Its keys are only inspected by the v1 to v2 migration.
func checkSpecShape(raw []byte) error {
	spec := gjson.GetBytes(raw, "spec")
	if spec.Exists() && spec.Type != gjson.Null && !spec.IsObject() {
		return fmt.Errorf("%w: spec is not an object", ErrInvalidSpecShape)
	}
	return nil
}

// convertV1ToV2 moves spec.secretName into the kafka and openSearch blocks.
// When there is nothing to move, raw is returned as is.
func convertV1ToV2(raw []byte) ([]byte, error) {
	specJSON := gjson.GetBytes(raw, "spec")
	if !specJSON.Exists() || specJSON.Type == gjson.Null {
		return raw, nil
	}

	var spec Spec
	if err := spec.UnmarshalJSON([]byte(specJSON.Raw)); err != nil {
		return nil, err
	}
	if !spec.relocateSecretName() {
		return raw, nil
	}

	encoded, err := spec.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode spec: %w", err)
	}
	out, err := sjson.SetRawBytes(raw, "spec", encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to set spec: %w", err)
	}
	return out, nil
}
