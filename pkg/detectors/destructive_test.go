package detectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

func destructiveRule(t *testing.T) config.DestructiveRule {
	t.Helper()
	return config.Default().Rules.Destructive
}

func runShell(t *testing.T, d *DestructiveDetector, command string) *contracts.Detection {
	t.Helper()
	det, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{"command": command}))
	require.NoError(t, err)
	return det
}

func TestDestructiveRecursiveRm(t *testing.T) {
	d := NewDestructiveDetector(destructiveRule(t))

	cases := []struct {
		command string
		minConf float64
	}{
		{"rm -rf /", 0.98},
		{"rm -rf /etc/nginx", 0.98},
		{"rm -fr ~/projects", 0.98},
		{"rm -rf *", 0.98},
		{"rm -rf /tmp/scratch", 0.85},
		{"sudo rm -r ./build", 0.85},
	}
	for _, tc := range cases {
		t.Run(tc.command, func(t *testing.T) {
			det := runShell(t, d, tc.command)
			require.NotNil(t, det)
			assert.Equal(t, contracts.CategoryDestructive, det.Category)
			assert.GreaterOrEqual(t, det.Confidence, tc.minConf)
		})
	}
}

func TestDestructiveRmWithoutRecursiveFlagIgnored(t *testing.T) {
	d := NewDestructiveDetector(destructiveRule(t))
	assert.Nil(t, runShell(t, d, "rm notes.txt"))
	assert.Nil(t, runShell(t, d, "rm -f notes.txt"))
}

func TestDestructiveSQL(t *testing.T) {
	d := NewDestructiveDetector(destructiveRule(t))

	det := runShell(t, d, `psql -c "DROP TABLE users"`)
	require.NotNil(t, det)
	assert.GreaterOrEqual(t, det.Confidence, 0.95)

	det = runShell(t, d, `mysql -e "DELETE FROM orders"`)
	require.NotNil(t, det)
	assert.GreaterOrEqual(t, det.Confidence, 0.93)

	// A WHERE clause makes the delete targeted, not destructive.
	assert.Nil(t, runShell(t, d, `mysql -e "DELETE FROM orders WHERE id = 7"`))
}

func TestDestructiveCloudCommands(t *testing.T) {
	d := NewDestructiveDetector(destructiveRule(t))

	cases := []string{
		"aws ec2 terminate-instances --instance-ids i-012345",
		"gcloud projects delete my-project --quiet",
		"kubectl delete namespace production",
		"terraform destroy -auto-approve",
		"az group delete --name prod-rg --yes",
	}
	for _, command := range cases {
		t.Run(command, func(t *testing.T) {
			det := runShell(t, d, command)
			require.NotNil(t, det)
			assert.GreaterOrEqual(t, det.Confidence, 0.95)
			assert.Equal(t, "cloud", det.Metadata["type"])
		})
	}
}

func TestDestructiveGitCommands(t *testing.T) {
	d := NewDestructiveDetector(destructiveRule(t))

	det := runShell(t, d, "git push --force origin main")
	require.NotNil(t, det)
	assert.Equal(t, "git", det.Metadata["type"])

	det = runShell(t, d, "git reset --hard HEAD~3")
	require.NotNil(t, det)
	assert.GreaterOrEqual(t, det.Confidence, 0.85)
}

func TestDestructiveCodePatterns(t *testing.T) {
	d := NewDestructiveDetector(destructiveRule(t))

	cases := []struct {
		name string
		code string
	}{
		{"python", `shutil.rmtree("/data/output")`},
		{"node", `fs.rm(dir, { recursive: true, force: true })`},
		{"node async rm", `await fs.rm(dir, { force: true })`},
		{"fs-extra remove", `await fse.remove("/var/www")`},
		{"fs-extra rm", `fse.rm("/var/www", { recursive: true })`},
		{"go", `os.RemoveAll(tmpDir)`},
		{"rust", `fs::remove_dir_all(&path)?`},
		{"ruby", `FileUtils.rm_rf("./cache")`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			det, err := d.Detect(context.Background(), contracts.NewToolCallContext("write_file", map[string]any{"code": tc.code}))
			require.NoError(t, err)
			require.NotNil(t, det)
			assert.Equal(t, "code", det.Metadata["type"])
			assert.GreaterOrEqual(t, det.Confidence, 0.9)
		})
	}
}

func TestDestructiveSubDetectorToggles(t *testing.T) {
	rule := destructiveRule(t)
	f := false
	rule.Cloud.Enabled = &f
	d := NewDestructiveDetector(rule)

	assert.Nil(t, runShell(t, d, "terraform destroy -auto-approve"))
	// Shell stays on.
	require.NotNil(t, runShell(t, d, "rm -rf /"))
}

func TestDestructiveCombinesSubDetectors(t *testing.T) {
	d := NewDestructiveDetector(destructiveRule(t))

	det := runShell(t, d, "terraform destroy -auto-approve && rm -rf /var/lib/app")
	require.NotNil(t, det)
	// Two sub-detectors fired: 0.95 primary plus the combination bump.
	assert.GreaterOrEqual(t, det.Confidence, 0.95)
}

func TestDestructiveDisabled(t *testing.T) {
	rule := destructiveRule(t)
	f := false
	rule.Enabled = &f
	d := NewDestructiveDetector(rule)
	assert.Nil(t, runShell(t, d, "rm -rf /"))
}
