package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupFormatJSONRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupFormat(&buf, "poold", "test", FormatJSON, false)
	logger.Info("claim settled", MaskField("signature", "5Kd3..."), MaskField("nonce", "7"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "claim settled", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "poold", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["signature"])
	require.Equal(t, "7", line["nonce"])
	require.Contains(t, line, "timestamp")
}

func TestSetupFormatPrettyWritesText(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupFormat(&buf, "poolctl", "", FormatPretty, true)
	logger.Debug("signed claim", slog.Uint64("nonce", 3))
	require.Contains(t, buf.String(), "signed claim")
	require.Contains(t, buf.String(), "nonce")
}

func TestValidateFormat(t *testing.T) {
	require.NoError(t, ValidateFormat("JSON"))
	require.NoError(t, ValidateFormat("pretty"))
	require.Error(t, ValidateFormat("xml"))
}

func TestMaskValue(t *testing.T) {
	require.Equal(t, "", MaskValue(""))
	require.Equal(t, RedactedValue, MaskValue("secret"))
	require.True(t, IsAllowlisted(" Payer "))
	require.False(t, IsAllowlisted("passphrase"))
	require.Contains(t, RedactionAllowlist(), "nonce")
}

func TestSensitiveKeysRedactedWithoutMaskField(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupFormat(&buf, "poold", "", FormatJSON, false)
	logger.Info("boot", slog.String("adminToken", "s3cret"), slog.String("keystore_passphrase", "pw"), slog.String("asset", "x"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["adminToken"])
	require.Equal(t, RedactedValue, line["keystore_passphrase"])
	require.Equal(t, "x", line["asset"])
}

func TestOutputTeesToRotatingFile(t *testing.T) {
	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "poold.log")
	w, closeFn, err := Output(&stdout, path, 1, 2)
	require.NoError(t, err)

	logger := SetupFormat(w, "poold", "test", FormatJSON, false)
	logger.Info("rotated line")
	require.NoError(t, closeFn())

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(written), "rotated line")
	require.Contains(t, stdout.String(), "rotated line")

	w, closeFn, err = Output(&stdout, "", 1, 2)
	require.NoError(t, err)
	require.Equal(t, &stdout, w)
	require.NoError(t, closeFn())

	_, err = RotatingFile(" ", 1, 1)
	require.Error(t, err)
}
