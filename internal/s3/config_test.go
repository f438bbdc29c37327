package s3

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCredsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accessKeys.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadAccessKeys(t *testing.T) {
	path := writeCredsFile(t, "Access key ID,Secret access key\nAKIAEXAMPLE,wJalrXUtnFEMIexamplekey\n")

	provider, err := LoadAccessKeys(path)
	if err != nil {
		t.Fatalf("LoadAccessKeys failed: %v", err)
	}

	creds, err := provider.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if creds.AccessKeyID != "AKIAEXAMPLE" {
		t.Errorf("AccessKeyID = %q", creds.AccessKeyID)
	}
	if creds.SecretAccessKey != "wJalrXUtnFEMIexamplekey" {
		t.Errorf("SecretAccessKey = %q", creds.SecretAccessKey)
	}
}

func TestLoadAccessKeys_ExtraColumns(t *testing.T) {
	path := writeCredsFile(t, "User name,Access key ID,Secret access key\nalice,AKIA2,secret2\n")

	provider, err := LoadAccessKeys(path)
	if err != nil {
		t.Fatalf("LoadAccessKeys failed: %v", err)
	}

	creds, err := provider.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if creds.AccessKeyID != "AKIA2" || creds.SecretAccessKey != "secret2" {
		t.Errorf("creds = %q/%q", creds.AccessKeyID, creds.SecretAccessKey)
	}
}

func TestLoadAccessKeys_Errors(t *testing.T) {
	if _, err := LoadAccessKeys(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeCredsFile(t, "Access key ID,Secret access key\n")
	if _, err := LoadAccessKeys(path); err == nil {
		t.Error("expected error for header-only file")
	}

	path = writeCredsFile(t, "foo,bar\na,b\n")
	if _, err := LoadAccessKeys(path); err == nil {
		t.Error("expected error for missing key columns")
	}
}
