package raftsecurity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyNodeCertificate(t *testing.T) {
	ca, err := NewCertAuthority()
	require.NoError(t, err)

	cert, err := ca.IssueNodeCertificate("n1", []string{"n1.raftsim.local"}, nil)
	require.NoError(t, err)
	assert.NoError(t, ca.VerifyCertificate(cert.Leaf))
}

func TestVerifyRejectsForeignCA(t *testing.T) {
	ca1, err := NewCertAuthority()
	require.NoError(t, err)
	ca2, err := NewCertAuthority()
	require.NoError(t, err)

	cert, err := ca2.IssueNodeCertificate("n1", nil, nil)
	require.NoError(t, err)
	assert.Error(t, ca1.VerifyCertificate(cert.Leaf))
}

func TestCAExportImportRoundTrip(t *testing.T) {
	ca, err := NewCertAuthority()
	require.NoError(t, err)
	certDER, keyDER := ca.Export()

	restored, err := ImportCertAuthority(certDER, keyDER)
	require.NoError(t, err)

	cert, err := restored.IssueNodeCertificate("n2", nil, nil)
	require.NoError(t, err)
	assert.NoError(t, ca.VerifyCertificate(cert.Leaf))
}

func TestSaveAndLoadCertFromFile(t *testing.T) {
	ca, err := NewCertAuthority()
	require.NoError(t, err)
	cert, err := ca.IssueNodeCertificate("n1", nil, nil)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "n1")
	require.NoError(t, SaveCertToFile(cert, dir))
	assert.FileExists(t, filepath.Join(dir, "node.crt"))
	assert.FileExists(t, filepath.Join(dir, "node.key"))

	loaded, err := LoadCertFromFile(dir)
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.SerialNumber, loaded.Leaf.SerialNumber)
}

func TestSaveAndLoadCAFromFile(t *testing.T) {
	ca, err := NewCertAuthority()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, SaveCAToFile(ca, dir))

	loaded, err := LoadCAFromFile(dir)
	require.NoError(t, err)

	cert, err := loaded.IssueNodeCertificate("n3", nil, nil)
	require.NoError(t, err)
	assert.NoError(t, ca.VerifyCertificate(cert.Leaf))
}
