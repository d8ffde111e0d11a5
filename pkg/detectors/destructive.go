package detectors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// destructivePattern is one compiled rule in a sub-detector table.
type destructivePattern struct {
	re         *regexp.Regexp
	confidence float64
	reason     string
	kind       string // shell | cloud | git | code
}

// rmRecursiveRe requires the recursive flag in some position (-r, -rf, -fr).
var rmRecursiveRe = regexp.MustCompile(`(?i)\brm\s+(?:-[a-z]+\s+)*-[a-z]*r[a-z]*\b[^|;&]*`)

// dangerousPaths raise the confidence of a recursive rm.
var dangerousPaths = []string{"/", "/etc", "/home", "/usr", "/bin", "/boot", "~", "$HOME", "*"}

var shellPatterns = []destructivePattern{
	{regexp.MustCompile(`(?i)\bDROP\s+(DATABASE|TABLE)\b`), 0.95, "SQL DROP statement", "shell"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\s+TABLE\b`), 0.95, "SQL TRUNCATE TABLE", "shell"},
	{regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\b`), 0.97, "filesystem format (mkfs)", "shell"},
	{regexp.MustCompile(`(?i)\bdd\s+[^|;&]*\bof=/dev/`), 0.97, "raw write to block device (dd)", "shell"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-R\s+)?777\s+/etc\b`), 0.9, "world-writable system configuration (chmod 777 /etc)", "shell"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), 0.99, "fork bomb", "shell"},
	{regexp.MustCompile(`(?i)\bshred\b`), 0.9, "secure file destruction (shred)", "shell"},
}

// deleteFromRe matches DELETE FROM; hits are discarded when the statement
// carries a WHERE clause.
var (
	deleteFromRe = regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+\S+`)
	whereRe      = regexp.MustCompile(`(?i)\bWHERE\b`)
)

var cloudPatterns = []destructivePattern{
	// AWS
	{regexp.MustCompile(`(?i)\baws\s+ec2\s+terminate-instances\b`), 0.95, "AWS EC2 instance termination", "cloud"},
	{regexp.MustCompile(`(?i)\baws\s+s3\s+rb\b[^|;&]*--force`), 0.97, "forced S3 bucket removal", "cloud"},
	{regexp.MustCompile(`(?i)\baws\s+s3api\s+delete-bucket\b`), 0.95, "S3 bucket deletion", "cloud"},
	{regexp.MustCompile(`(?i)\baws\s+rds\s+delete-db-instance\b`), 0.95, "RDS database deletion", "cloud"},
	{regexp.MustCompile(`(?i)\baws\s+cloudformation\s+delete-stack\b`), 0.95, "CloudFormation stack deletion", "cloud"},
	{regexp.MustCompile(`(?i)\baws\s+lambda\s+delete-function\b`), 0.9, "Lambda function deletion", "cloud"},
	// GCP
	{regexp.MustCompile(`(?i)\bgcloud\s+compute\s+instances\s+delete\b`), 0.95, "GCE instance deletion", "cloud"},
	{regexp.MustCompile(`(?i)\bgcloud\s+projects\s+delete\b`), 0.97, "GCP project deletion", "cloud"},
	{regexp.MustCompile(`(?i)\bgcloud\s+container\s+clusters\s+delete\b`), 0.95, "GKE cluster deletion", "cloud"},
	{regexp.MustCompile(`(?i)\bgsutil\s+rm\s+-r\b`), 0.95, "recursive GCS removal", "cloud"},
	// Azure
	{regexp.MustCompile(`(?i)\baz\s+vm\s+delete\b`), 0.95, "Azure VM deletion", "cloud"},
	{regexp.MustCompile(`(?i)\baz\s+group\s+delete\b`), 0.95, "Azure resource group deletion", "cloud"},
	{regexp.MustCompile(`(?i)\baz\s+aks\s+delete\b`), 0.95, "AKS cluster deletion", "cloud"},
	// Kubernetes
	{regexp.MustCompile(`(?i)\bkubectl\s+delete\s+(namespace|ns)\b`), 0.95, "Kubernetes namespace deletion", "cloud"},
	{regexp.MustCompile(`(?i)\bkubectl\s+delete\s+pods?\s+(--all|-A)\b`), 0.95, "bulk pod deletion", "cloud"},
	{regexp.MustCompile(`(?i)\bhelm\s+uninstall\b`), 0.9, "Helm release removal", "cloud"},
	// Terraform family
	{regexp.MustCompile(`(?i)\bterraform\s+destroy\b`), 0.95, "Terraform destroy", "cloud"},
	{regexp.MustCompile(`(?i)\bterraform\s+apply\s+[^|;&]*-auto-approve`), 0.9, "unattended Terraform apply", "cloud"},
	{regexp.MustCompile(`(?i)\bterragrunt\s+destroy\b`), 0.95, "Terragrunt destroy", "cloud"},
	{regexp.MustCompile(`(?i)\bpulumi\s+destroy\b`), 0.95, "Pulumi destroy", "cloud"},
	// Git destructive
	{regexp.MustCompile(`(?i)\bgit\s+push\s+[^|;&]*(--force|-f)\b[^|;&]*\b(main|master)\b`), 0.9, "force push to protected branch", "git"},
	{regexp.MustCompile(`(?i)\bgit\s+reset\s+--hard\b`), 0.85, "hard reset discards local work", "git"},
	{regexp.MustCompile(`(?i)\bgit\s+clean\s+-fd\b`), 0.85, "git clean removes untracked files", "git"},
	{regexp.MustCompile(`(?i)\bgit\s+branch\s+-D\b`), 0.8, "forced branch deletion", "git"},
	{regexp.MustCompile(`(?i)\bgit\s+checkout\s+\.`), 0.8, "checkout discards working tree changes", "git"},
}

var codePatterns = []destructivePattern{
	// Python
	{regexp.MustCompile(`\bshutil\.rmtree\s*\(`), 0.95, "Python recursive tree removal", "code"},
	{regexp.MustCompile(`\bos\.remove\s*\(`), 0.85, "Python file removal", "code"},
	{regexp.MustCompile(`\bos\.rmdir\s*\(`), 0.85, "Python directory removal", "code"},
	{regexp.MustCompile(`\bos\.removedirs\s*\(`), 0.85, "Python recursive directory removal", "code"},
	{regexp.MustCompile(`\bsubprocess\.(run|call|check_call|check_output|Popen)\s*\([^)]*\brm\b`), 0.9, "Python subprocess invoking rm", "code"},
	// JavaScript / TypeScript
	{regexp.MustCompile(`\bfs\.rm(Sync)?\s*\([^)]*recursive\s*:\s*true`), 0.95, "Node recursive fs.rm", "code"},
	{regexp.MustCompile(`\bfs\.rm(Sync)?\s*\(`), 0.9, "Node fs.rm", "code"},
	{regexp.MustCompile(`\bfs\.unlink(Sync)?\s*\(`), 0.85, "Node file unlink", "code"},
	{regexp.MustCompile(`\brimraf\b`), 0.9, "rimraf recursive removal", "code"},
	{regexp.MustCompile(`\b(fse|fsExtra)\.(remove|rm)(Sync)?\s*\(|\bfs\.remove(Sync)?\s*\(`), 0.9, "fs-extra removal", "code"},
	// Go
	{regexp.MustCompile(`\bos\.RemoveAll\s*\(`), 0.95, "Go recursive removal", "code"},
	{regexp.MustCompile(`\bos\.Remove\s*\(`), 0.8, "Go file removal", "code"},
	// Rust
	{regexp.MustCompile(`\bfs::remove_dir_all\s*\(`), 0.95, "Rust recursive directory removal", "code"},
	{regexp.MustCompile(`\bfs::remove_file\s*\(`), 0.85, "Rust file removal", "code"},
	// Ruby
	{regexp.MustCompile(`\bFileUtils\.rm_(rf|r)\b`), 0.95, "Ruby recursive removal", "code"},
	// Java
	{regexp.MustCompile(`\bFileUtils\.deleteDirectory\s*\(`), 0.95, "Java directory deletion", "code"},
	{regexp.MustCompile(`\bFiles\.delete\s*\(`), 0.85, "Java file deletion", "code"},
	// C#
	{regexp.MustCompile(`\bDirectory\.Delete\s*\([^)]*,\s*true\s*\)`), 0.95, "C# recursive directory deletion", "code"},
	{regexp.MustCompile(`\bFile\.Delete\s*\(`), 0.8, "C# file deletion", "code"},
	// PHP
	{regexp.MustCompile(`\bunlink\s*\(`), 0.8, "PHP file removal", "code"},
	{regexp.MustCompile(`\brmdir\s*\(`), 0.8, "PHP directory removal", "code"},
}

// DestructiveDetector is the union of the shell, cloud, and code
// sub-detectors, each individually toggleable.
type DestructiveDetector struct {
	rule config.DestructiveRule
}

// NewDestructiveDetector builds the detector from its rule.
func NewDestructiveDetector(rule config.DestructiveRule) *DestructiveDetector {
	return &DestructiveDetector{rule: rule}
}

func (d *DestructiveDetector) Name() string { return string(contracts.CategoryDestructive) }

// Detect scans the free-text input fields with each enabled sub-detector
// and combines the strongest hit per sub-detector.
func (d *DestructiveDetector) Detect(_ context.Context, tcc *contracts.ToolCallContext) (*contracts.Detection, error) {
	if d.rule.Enabled == nil || !*d.rule.Enabled {
		return nil, nil
	}
	texts := scanTexts(tcc.ToolInput)
	if len(texts) == 0 {
		return nil, nil
	}

	var subs []subResult
	if enabled(d.rule.Shell.Enabled) {
		if s := detectShell(texts); s != nil {
			subs = append(subs, *s)
		}
	}
	if enabled(d.rule.Cloud.Enabled) {
		if s := bestPatternHit(texts, cloudPatterns, "cloud command"); s != nil {
			subs = append(subs, *s)
		}
	}
	if enabled(d.rule.Code.Enabled) {
		if s := bestPatternHit(texts, codePatterns, "destructive library call"); s != nil {
			subs = append(subs, *s)
		}
	}
	if len(subs) == 0 {
		return nil, nil
	}

	conf, reason, meta := combine(subs)
	return &contracts.Detection{
		Category:   contracts.CategoryDestructive,
		Severity:   contracts.Severity(d.rule.Severity),
		Confidence: conf,
		Reason:     reason,
		Metadata:   meta,
	}, nil
}

func enabled(b *bool) bool { return b != nil && *b }

// detectShell handles the recursive-rm special case (path-sensitive
// confidence) plus the static shell pattern table and the
// DELETE-without-WHERE rule.
func detectShell(texts []string) *subResult {
	best := (*subResult)(nil)

	consider := func(conf float64, reason, matched string) {
		if best == nil || conf > best.Confidence {
			best = &subResult{
				Confidence: conf,
				Reason:     fmt.Sprintf("destructive shell command: %s", reason),
				Metadata:   map[string]any{"type": "shell", "matchedPattern": matched},
			}
		}
	}

	for _, text := range texts {
		if m := rmRecursiveRe.FindString(text); m != "" {
			conf := 0.85
			for _, p := range dangerousPaths {
				if rmTargets(m, p) {
					conf = 0.98
					break
				}
			}
			consider(conf, "recursive file removal (rm)", strings.TrimSpace(m))
		}
		if m := deleteFromRe.FindString(text); m != "" && !whereRe.MatchString(text) {
			consider(0.93, "SQL DELETE without WHERE clause", m)
		}
		for _, p := range shellPatterns {
			if m := p.re.FindString(text); m != "" {
				consider(p.confidence, p.reason, strings.TrimSpace(m))
			}
		}
	}
	return best
}

// rmTargets reports whether the rm invocation's arguments include path as
// a standalone target (or a wildcard).
func rmTargets(invocation, path string) bool {
	for _, tok := range strings.Fields(invocation) {
		if strings.HasPrefix(tok, "-") {
			continue
		}
		if tok == path {
			return true
		}
		if len(path) > 1 && strings.HasPrefix(path, "/") && strings.HasPrefix(tok, path+"/") {
			return true
		}
		if path == "*" && strings.Contains(tok, "*") {
			return true
		}
		if path == "~" && strings.HasPrefix(tok, "~") {
			return true
		}
	}
	return false
}

// bestPatternHit returns the highest-confidence table hit across texts.
func bestPatternHit(texts []string, table []destructivePattern, label string) *subResult {
	best := (*subResult)(nil)
	for _, text := range texts {
		for _, p := range table {
			m := p.re.FindString(text)
			if m == "" {
				continue
			}
			if best == nil || p.confidence > best.Confidence {
				best = &subResult{
					Confidence: p.confidence,
					Reason:     fmt.Sprintf("destructive %s: %s", label, p.reason),
					Metadata:   map[string]any{"type": p.kind, "matchedPattern": strings.TrimSpace(m)},
				}
			}
		}
	}
	return best
}
