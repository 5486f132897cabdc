package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		def       string
		file      Optional
		env       Optional
		override  Optional
		wantValue string
		wantTier  Tier
	}{
		{
			name:      "only default present",
			def:       "fallback",
			wantValue: "fallback",
			wantTier:  TierDefault,
		},
		{
			name:      "file beats default",
			def:       "fallback",
			file:      Some("from-file"),
			wantValue: "from-file",
			wantTier:  TierFile,
		},
		{
			name:      "env beats file",
			def:       "fallback",
			file:      Some("from-file"),
			env:       Some("from-env"),
			wantValue: "from-env",
			wantTier:  TierEnv,
		},
		{
			name:      "override beats every lower tier",
			def:       "fallback",
			file:      Some("from-file"),
			env:       Some("from-env"),
			override:  Some("from-flag"),
			wantValue: "from-flag",
			wantTier:  TierOverride,
		},
		{
			name:      "present empty override wins",
			def:       "fallback",
			file:      Some("from-file"),
			env:       Some("from-env"),
			override:  Some(""),
			wantValue: "",
			wantTier:  TierOverride,
		},
		{
			name:      "present empty file beats default",
			def:       "fallback",
			file:      Some(""),
			wantValue: "",
			wantTier:  TierFile,
		},
		{
			name:      "absent override does not hide env",
			def:       "fallback",
			env:       Some("from-env"),
			override:  None,
			wantValue: "from-env",
			wantTier:  TierEnv,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve("KEY", tt.def, tt.file, tt.env, tt.override)
			assert.Equal(t, "KEY", got.Key)
			assert.Equal(t, tt.wantValue, got.Value)
			assert.Equal(t, tt.wantTier, got.Tier)
		})
	}
}

func TestResolve_MountPathScenarios(t *testing.T) {
	t.Run("default empty mount path stays empty", func(t *testing.T) {
		got := Resolve(KeyMountPath, "", None, None, None)
		assert.Equal(t, "", got.Value)
		assert.False(t, got.IsSet())
	})

	t.Run("override replaces file mount path", func(t *testing.T) {
		got := Resolve(KeyMountPath, "", Some("/mcp"), None, Some("/v1"))
		assert.Equal(t, "/v1", got.Value)
		assert.Equal(t, TierOverride, got.Tier)
	})
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "default", TierDefault.String())
	assert.Equal(t, "file", TierFile.String())
	assert.Equal(t, "env", TierEnv.String())
	assert.Equal(t, "override", TierOverride.String())
	assert.Equal(t, "tier(9)", Tier(9).String())
}

func TestSnapshot_Resolve(t *testing.T) {
	snap := NewSnapshot(
		map[string]string{"A": "file-a", "B": "file-b"},
		map[string]string{"B": "env-b", "C": ""},
		nil,
	)

	assert.Equal(t, Value{Key: "A", Value: "file-a", Tier: TierFile}, snap.Resolve("A", "def"))
	assert.Equal(t, Value{Key: "B", Value: "env-b", Tier: TierEnv}, snap.Resolve("B", "def"))
	assert.Equal(t, Value{Key: "C", Value: "", Tier: TierEnv}, snap.Resolve("C", "def"))
	assert.Equal(t, Value{Key: "D", Value: "def", Tier: TierDefault}, snap.Resolve("D", "def"))
}

func TestSnapshot_IsolatedFromCallerMaps(t *testing.T) {
	file := map[string]string{"A": "before"}
	snap := NewSnapshot(file, nil, nil)

	file["A"] = "after"

	assert.Equal(t, "before", snap.Resolve("A", "").Value)
}

func TestSnapshot_Explain(t *testing.T) {
	snap := NewSnapshot(nil, nil, map[string]string{"B": "flag"})

	values := snap.Explain([]string{"A", "B"}, map[string]string{"A": "a-default"})

	require.Len(t, values, 2)
	assert.Equal(t, TierDefault, values[0].Tier)
	assert.Equal(t, "a-default", values[0].Value)
	assert.Equal(t, TierOverride, values[1].Tier)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.env")
	content := "# deployment credentials\n\nAWS_REGION=eu-west-1\nECR_REPOSITORY=service\nIMAGE_TAG=\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	values, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", values["AWS_REGION"])
	assert.Equal(t, "service", values["ECR_REPOSITORY"])

	tag, present := values["IMAGE_TAG"]
	assert.True(t, present, "empty assignment is a present value")
	assert.Equal(t, "", tag)
}

func TestLoadFile_DollarHandling(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "BASE=/srv\n" +
		"DB_PASSWORD='pa$word'\n" +
		"DATA_DIR=$BASE/data\n" +
		"MCP_MOUNT_PATH=\"/x${BASE}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	values, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "pa$word", values["DB_PASSWORD"], "single-quoted values are literal")
	assert.Equal(t, "/srv/data", values["DATA_DIR"])
	assert.Equal(t, "/x/srv", values["MCP_MOUNT_PATH"])
}

func TestExpandedKeys(t *testing.T) {
	data := []byte(`# $COMMENT
PLAIN=value
QUOTED='pa$word'
UNQUOTED=pa$WORD
DOUBLE="/x${BASE}"
ESCAPED=pa\$word
export EXPORTED=$HOME
`)
	assert.Equal(t, []string{"UNQUOTED", "DOUBLE", "EXPORTED"}, expandedKeys(data))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEnvFromList(t *testing.T) {
	env := EnvFromList([]string{
		"AWS_REGION=us-west-2",
		"MCP_MOUNT_PATH=",
		"HOME=/root",
		"MALFORMED",
	}, []string{"AWS_REGION", "MCP_MOUNT_PATH"})

	assert.Equal(t, map[string]string{"AWS_REGION": "us-west-2", "MCP_MOUNT_PATH": ""}, env)
}
