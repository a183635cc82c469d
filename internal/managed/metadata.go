package managed

import (
	"math"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// pageKeys are checked in order; the first is set by Bedrock's own PDF parser.
var pageKeys = []string{"x-amz-bedrock-kb-document-page-number", "pageNumber", "page_number", "page"}

func locationURI(loc *types.RetrievalResultLocation) string {
	if loc == nil {
		return ""
	}
	switch {
	case loc.S3Location != nil:
		return aws.ToString(loc.S3Location.Uri)
	case loc.WebLocation != nil:
		return aws.ToString(loc.WebLocation.Url)
	case loc.ConfluenceLocation != nil:
		return aws.ToString(loc.ConfluenceLocation.Url)
	case loc.SharePointLocation != nil:
		return aws.ToString(loc.SharePointLocation.Url)
	case loc.SalesforceLocation != nil:
		return aws.ToString(loc.SalesforceLocation.Url)
	}
	return ""
}

func decodeMetadata(md map[string]document.Interface) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		if v == nil {
			continue
		}
		var decoded any
		if err := v.UnmarshalSmithyDocument(&decoded); err != nil {
			continue
		}
		out[k] = normalize(decoded)
	}
	return out
}

type floater interface {
	Float64() (float64, error)
}

// normalize converts document numbers into float64 so metadata serializes as JSON numbers.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = normalize(inner)
		}
		return t
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case floater:
		if f, err := t.Float64(); err == nil {
			return f
		}
	}
	return v
}

func pageFromMetadata(md map[string]any) *int {
	for _, key := range pageKeys {
		v, ok := md[key]
		if !ok {
			continue
		}
		if p, ok := toPage(v); ok {
			return &p
		}
	}
	return nil
}

func toPage(v any) (int, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
