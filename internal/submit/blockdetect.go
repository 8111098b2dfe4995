package submit

import (
	"strings"

	"github.com/sells-group/lead-entry/internal/browser"
)

// BlockType describes the kind of anti-bot interstitial a portal served.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
)

// DetectBlock checks a navigation response and the rendered page text for
// signs of anti-bot protection. Script and markup are not inspected, so a
// form that merely embeds a captcha widget is not reported.
func DetectBlock(resp *browser.Response, text string) BlockType {
	if resp != nil && (resp.Status == 403 || resp.Status == 503) {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" {
			return BlockCloudflare
		}
		if strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(text)

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "verify you are human") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return BlockCloudflare
	}

	if strings.Contains(lower, "complete the captcha") ||
		strings.Contains(lower, "recaptcha") ||
		strings.Contains(lower, "hcaptcha") ||
		strings.Contains(lower, "i'm not a robot") {
		return BlockCaptcha
	}

	return BlockNone
}
