package detectors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// exfilPattern is one upload/transfer command shape.
type exfilPattern struct {
	re         *regexp.Regexp
	confidence float64
	reason     string
	method     string // httpUpload | cloudUpload | network | dns
}

var httpUploadPatterns = []exfilPattern{
	{regexp.MustCompile(`(?i)\bcurl\b[^|;&]*\s(-d|--data|--data-binary|--data-raw|--data-urlencode|-F|--form|--upload-file|-T)\b`), 0.85,
		"curl uploading data to a remote endpoint", "httpUpload"},
	{regexp.MustCompile(`(?i)\bcurl\b[^|;&]*\s(-X\s*(POST|PUT)|--request\s*(POST|PUT))\b`), 0.75,
		"curl issuing a write request to a remote endpoint", "httpUpload"},
	{regexp.MustCompile(`(?i)\bwget\b[^|;&]*\s(--post-data|--post-file|--body-data|--body-file)\b`), 0.85,
		"wget posting data to a remote endpoint", "httpUpload"},
	{regexp.MustCompile(`(?i)\bhttp(ie)?\s+(POST|PUT)\s+\S+`), 0.8,
		"httpie sending data to a remote endpoint", "httpUpload"},
}

// codeUploadPatterns covers the same channel expressed as code instead
// of a shell command: HTTP client libraries issuing write requests.
var codeUploadPatterns = []exfilPattern{
	{regexp.MustCompile(`(?i)\b(requests|httpx)\.(post|put)\s*\(`), 0.85,
		"python HTTP client sending data to a remote endpoint", "httpUpload"},
	{regexp.MustCompile(`(?i)\bfetch\s*\([^)]*method\s*:\s*['"](POST|PUT)['"]`), 0.85,
		"fetch sending data to a remote endpoint", "httpUpload"},
	{regexp.MustCompile(`(?i)\baxios\.(post|put)\s*\(`), 0.85,
		"axios sending data to a remote endpoint", "httpUpload"},
	{regexp.MustCompile(`(?i)\bInvoke-(WebRequest|RestMethod)\b[^|;&]*-Method\s+(POST|PUT)\b`), 0.85,
		"PowerShell sending data to a remote endpoint", "httpUpload"},
}

// sdkUploadPatterns covers cloud-storage SDK calls whose method names
// are upload-only, so no direction check is needed.
var sdkUploadPatterns = []exfilPattern{
	{regexp.MustCompile(`(?i)\.(upload_file|put_object)\s*\(`), 0.85,
		"S3 client uploading a local object", "cloudUpload"},
	{regexp.MustCompile(`(?i)\.upload_from_filename\s*\(`), 0.85,
		"GCS client uploading a local file", "cloudUpload"},
	{regexp.MustCompile(`(?i)\.upload_blob\s*\(`), 0.85,
		"Azure blob client uploading data", "cloudUpload"},
	{regexp.MustCompile(`(?i)\bs3\.upload\s*\(`), 0.85,
		"S3 client uploading a local object", "cloudUpload"},
}

// cloudTransfer recognizes one transfer command whose direction matters:
// only local source with remote destination is exfiltration. RE2 has no
// lookahead, so the direction check walks the argument tokens.
type cloudTransfer struct {
	headRe     *regexp.Regexp
	remote     func(tok string) bool
	confidence float64
	reason     string
}

var cloudTransfers = []cloudTransfer{
	{regexp.MustCompile(`(?i)\baws\s+s3\s+(cp|sync|mv)\b`), hasPrefixFold("s3://"), 0.9,
		"aws s3 copying local data to a bucket"},
	{regexp.MustCompile(`(?i)\bgsutil\s+(?:-\S+\s+)*(cp|rsync|mv)\b`), hasPrefixFold("gs://"), 0.9,
		"gsutil copying local data to a bucket"},
	{regexp.MustCompile(`(?i)\brclone\s+(copy|sync|move|copyto)\b`), remoteColonToken, 0.85,
		"rclone moving local data to a remote"},
	{regexp.MustCompile(`(?i)\bscp\b`), remoteColonToken, 0.8,
		"scp copying a local file to a remote host"},
	{regexp.MustCompile(`(?i)\brsync\b`), remoteColonToken, 0.8,
		"rsync copying local data to a remote host"},
	{regexp.MustCompile(`(?i)\bazcopy\s+(copy|cp|sync)\b`), hasPrefixFold("https://"), 0.9,
		"azcopy copying local data to cloud storage"},
	{regexp.MustCompile(`(?i)\bs3cmd\s+(put|sync)\b`), hasPrefixFold("s3://"), 0.9,
		"s3cmd uploading local data to a bucket"},
	{regexp.MustCompile(`(?i)\bgcloud\s+(alpha\s+|beta\s+)?storage\s+(cp|rsync|mv)\b`), hasPrefixFold("gs://"), 0.9,
		"gcloud storage copying local data to a bucket"},
	{regexp.MustCompile(`(?i)\bmc\s+(cp|mirror)\b`), aliasSlashToken, 0.8,
		"mc copying local data to an object store"},
}

// azBlobUploadRe has no download ambiguity: upload is in the verb.
var azBlobUploadRe = regexp.MustCompile(`(?i)\baz\s+storage\s+blob\s+upload\b`)

func hasPrefixFold(prefix string) func(string) bool {
	return func(tok string) bool {
		return len(tok) >= len(prefix) && strings.EqualFold(tok[:len(prefix)], prefix)
	}
}

// aliasSlashToken reports mc-style alias/bucket destinations: a bare
// alias segment before the first slash, not a filesystem path.
func aliasSlashToken(tok string) bool {
	if strings.HasPrefix(tok, "./") || strings.HasPrefix(tok, "../") || strings.HasPrefix(tok, "~") {
		return false
	}
	return strings.IndexByte(tok, '/') > 0
}

// remoteColonToken reports host:path or remote:path shapes. Single-letter
// prefixes are treated as Windows drive paths, not hosts.
func remoteColonToken(tok string) bool {
	idx := strings.IndexByte(tok, ':')
	if idx <= 1 {
		return false
	}
	if strings.Contains(tok[:idx], "/") {
		return false
	}
	return true
}

// detectCloudTransfer reports an outbound transfer: last positional
// argument remote, at least one earlier positional argument local.
func detectCloudTransfer(text string) *subResult {
	if azBlobUploadRe.MatchString(text) {
		return &subResult{
			Confidence: 0.9,
			Reason:     "az uploading a blob to cloud storage",
			Metadata:   map[string]any{"methods": []string{"cloudUpload"}},
		}
	}
	for _, ct := range cloudTransfers {
		loc := ct.headRe.FindStringIndex(text)
		if loc == nil {
			continue
		}
		rest := text[loc[1]:]
		if end := strings.IndexAny(rest, "|;&"); end >= 0 {
			rest = rest[:end]
		}
		var positional []string
		for _, tok := range strings.Fields(rest) {
			tok = strings.Trim(tok, `"'`)
			if tok == "" || strings.HasPrefix(tok, "-") {
				continue
			}
			positional = append(positional, tok)
		}
		if len(positional) < 2 {
			continue
		}
		dest := positional[len(positional)-1]
		src := positional[len(positional)-2]
		if ct.remote(dest) && !ct.remote(src) {
			return &subResult{
				Confidence: ct.confidence,
				Reason:     ct.reason,
				Metadata:   map[string]any{"methods": []string{"cloudUpload"}, "destination": dest},
			}
		}
	}
	return nil
}

var networkPatterns = []exfilPattern{
	{regexp.MustCompile(`(?i)(\bcat\b|<)[^|;&]*\|\s*(nc|ncat|netcat)\b`), 0.9,
		"piping file contents into a raw network connection", "network"},
	{regexp.MustCompile(`(?i)\b(nc|ncat|netcat)\s+(?:-\S+\s+)*\S+\s+\d{1,5}\b`), 0.7,
		"opening a raw network connection", "network"},
	{regexp.MustCompile(`(?i)/dev/tcp/\S+/\d+`), 0.9,
		"writing through a /dev/tcp redirection", "network"},
	{regexp.MustCompile(`(?i)\b(telnet|socat)\b[^|;&]*\d{1,5}\b`), 0.7,
		"opening a raw network connection", "network"},
	{regexp.MustCompile(`(?i)(\bcat\b|<)[^|;&]*\|\s*ssh\b`), 0.85,
		"piping file contents over an ssh session", "network"},
	{regexp.MustCompile(`(?i)\bsftp\b[^|;&]*\bput\b|\bput\s[^|;&]*\|\s*sftp\b`), 0.8,
		"sftp putting a local file on a remote host", "network"},
}

// dnsExfilPatterns flags lookups smuggling data in the query name:
// an encoded label long enough to carry a payload, or a name built
// from command substitution.
var dnsExfilPatterns = []exfilPattern{
	{regexp.MustCompile(`(?i)\b(nslookup|dig|host)\b[^|;&]*?([a-z0-9+/=_-]{30,}\.|\$\(|\x60)`), 0.85,
		"DNS query carrying encoded data in the name", "dns"},
}

// encodePipeRe marks an encode step feeding a later command in the same
// pipeline. Encode-then-upload is the classic staging shape.
var encodePipeRe = regexp.MustCompile(`(?i)\b(base64|base32|xxd|gzip|tar\s+[^|;&]*c[^|;&]*)\b[^|;&]*\|`)

// ExfiltrationDetector flags commands that move local data off the host.
type ExfiltrationDetector struct {
	rule config.ExfiltrationRule
}

// NewExfiltrationDetector builds the detector from its rule.
func NewExfiltrationDetector(rule config.ExfiltrationRule) *ExfiltrationDetector {
	return &ExfiltrationDetector{rule: rule}
}

func (d *ExfiltrationDetector) Name() string { return string(contracts.CategoryExfiltration) }

// Detect scans the command-bearing fields for upload shapes. Multiple
// distinct methods raise confidence; an encode step before the upload
// raises it to at least 0.95.
func (d *ExfiltrationDetector) Detect(_ context.Context, tcc *contracts.ToolCallContext) (*contracts.Detection, error) {
	if d.rule.Enabled == nil || !*d.rule.Enabled {
		return nil, nil
	}

	texts := scanTexts(tcc.ToolInput)
	if len(texts) == 0 {
		return nil, nil
	}

	var subs []subResult
	methods := map[string]bool{}
	encoded := false
	for _, text := range texts {
		for _, group := range [][]exfilPattern{
			httpUploadPatterns, codeUploadPatterns, sdkUploadPatterns,
			networkPatterns, dnsExfilPatterns,
		} {
			for _, p := range group {
				if !p.re.MatchString(text) {
					continue
				}
				if methods[p.method] {
					continue
				}
				methods[p.method] = true
				subs = append(subs, subResult{
					Confidence: p.confidence,
					Reason:     p.reason,
					Metadata:   map[string]any{"methods": []string{p.method}},
				})
			}
		}
		if s := detectCloudTransfer(text); s != nil && !methods["cloudUpload"] {
			methods["cloudUpload"] = true
			subs = append(subs, *s)
		}
		if encodePipeRe.MatchString(text) {
			encoded = true
		}
	}
	if len(subs) == 0 {
		return nil, nil
	}

	conf, reason, meta := combine(subs)
	if len(subs) > 1 {
		reason = fmt.Sprintf("%s (confirmed by %d detection methods)", reason, len(subs))
	}
	if encoded {
		if conf < 0.95 {
			conf = 0.95
		}
		reason += "; data is encoded before transfer"
		meta["encodedPayload"] = true
	}
	return &contracts.Detection{
		Category:   contracts.CategoryExfiltration,
		Severity:   contracts.Severity(d.rule.Severity),
		Confidence: conf,
		Reason:     reason,
		Metadata:   meta,
	}, nil
}
