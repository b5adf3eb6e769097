package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"

	errs "tiktokads/pkg/errors"
	"tiktokads/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// number matches json.Number values produced by decoders running with
// UseNumber.
type number interface {
	String() string
	Float64() (float64, error)
	Int64() (int64, error)
}

// Canonical field names
const (
	FieldAdID         = "ad_id"
	FieldAdvertiserID = "advertiser_id"
	FieldCreativeURL  = "creative_url"
	FieldFirstSeen    = "first_seen_at"
	FieldLastSeen     = "last_seen_at"
	FieldImpressions  = "impressions_estimate"

	// MetaImpressionsRange keeps the source's impressions text when it was
	// a bucket like "10K-100K" rather than a number.
	MetaImpressionsRange = "impressions_range"
)

// aliases lists, per canonical field, the source keys accepted for it in
// priority order.
var aliases = []struct {
	field string
	keys  []string
}{
	{FieldAdID, []string{"ad_id", "adId", "id"}},
	{FieldAdvertiserID, []string{"advertiser_id", "advertiserId", "account_id"}},
	{FieldCreativeURL, []string{"creative_url", "adVideoUrl", "video_url"}},
	{FieldFirstSeen, []string{"first_seen_at", "first_shown_date", "adStartDate", "start_time", "startDate"}},
	{FieldLastSeen, []string{"last_seen_at", "last_shown_date", "adEndDate", "end_time", "endDate"}},
	{FieldImpressions, []string{"impressions_estimate", "adImpressions", "impressions", "impression_range"}},
}

// fields is the decode target for a canonicalized payload
type fields struct {
	AdID         string                 `mapstructure:"ad_id"`
	AdvertiserID string                 `mapstructure:"advertiser_id"`
	CreativeURL  string                 `mapstructure:"creative_url"`
	FirstSeen    interface{}            `mapstructure:"first_seen_at"`
	LastSeen     interface{}            `mapstructure:"last_seen_at"`
	Impressions  interface{}            `mapstructure:"impressions_estimate"`
	Extra        map[string]interface{} `mapstructure:",remain"`
}

// Normalizer turns raw ad payloads into AdRecords. It holds no state and
// never reads the clock, so the same payload always yields the same record.
type Normalizer struct{}

// New creates a Normalizer
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize converts raw into an AdRecord or returns a *errors.ParseError.
// raw is not modified.
func (n *Normalizer) Normalize(raw models.RawAd) (*models.AdRecord, error) {
	var f fields
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &f,
	})
	if err != nil {
		return nil, &errs.ParseError{Message: "decoder setup failed", Err: err}
	}
	if err := decoder.Decode(canonicalize(raw)); err != nil {
		return nil, &errs.ParseError{AdID: guessID(raw), Message: "malformed payload", Err: err}
	}

	rec := &models.AdRecord{
		AdID:         cleanText(f.AdID),
		AdvertiserID: cleanText(f.AdvertiserID),
		CreativeURL:  cleanText(f.CreativeURL),
		Metadata:     map[string]string{},
	}
	if rec.AdID == "" {
		return nil, &errs.ParseError{Field: FieldAdID, Message: "required field missing"}
	}
	if rec.AdvertiserID == "" {
		return nil, &errs.ParseError{AdID: rec.AdID, Field: FieldAdvertiserID, Message: "required field missing"}
	}

	first, err := ParseTimestamp(f.FirstSeen)
	if err != nil {
		return nil, &errs.ParseError{AdID: rec.AdID, Field: FieldFirstSeen, Message: err.Error(), Err: err}
	}
	last, err := ParseTimestamp(f.LastSeen)
	if err != nil {
		return nil, &errs.ParseError{AdID: rec.AdID, Field: FieldLastSeen, Message: err.Error(), Err: err}
	}
	switch {
	case first.IsZero() && last.IsZero():
		return nil, &errs.ParseError{AdID: rec.AdID, Field: FieldFirstSeen, Message: "no first or last seen timestamp"}
	case first.IsZero():
		first = last
	case last.IsZero():
		last = first
	}
	if last.Before(first) {
		return nil, &errs.ParseError{AdID: rec.AdID, Field: FieldLastSeen, Message: "last seen is before first seen"}
	}
	rec.FirstSeenAt, rec.LastSeenAt = first, last

	impressions, rangeText, err := ParseImpressions(f.Impressions)
	if err != nil {
		return nil, &errs.ParseError{AdID: rec.AdID, Field: FieldImpressions, Message: err.Error(), Err: err}
	}
	rec.ImpressionsEstimate = impressions

	for key, value := range f.Extra {
		s, ok, err := metadataValue(value)
		if err != nil {
			return nil, &errs.ParseError{AdID: rec.AdID, Field: key, Message: "unencodable metadata", Err: err}
		}
		if ok {
			rec.Metadata[key] = s
		}
	}
	if rangeText != "" {
		rec.Metadata[MetaImpressionsRange] = rangeText
	}

	return rec, nil
}

// canonicalize copies raw, moving the winning alias of each canonical field
// to the canonical key. Losing aliases stay put and end up in metadata.
func canonicalize(raw models.RawAd) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for _, a := range aliases {
		for _, key := range a.keys {
			v, ok := raw[key]
			if !ok || isEmpty(v) {
				continue
			}
			delete(out, key)
			out[a.field] = v
			break
		}
		if v, ok := out[a.field]; ok && isEmpty(v) {
			delete(out, a.field)
		}
	}
	return out
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func guessID(raw models.RawAd) string {
	for _, key := range aliases[0].keys {
		if s, ok := raw[key].(string); ok {
			return s
		}
	}
	return ""
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e11 seconds is in the year 5138; 1e11 milliseconds is March 1973.
const epochMillisThreshold = 1e11

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTimestamp accepts epoch seconds or milliseconds (as numbers or digit
// strings) and a handful of ISO 8601 layouts. Values without a zone are
// UTC. nil, "" and 0 give the zero time.
func ParseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	case number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", t.String())
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(t)
	case int:
		return fromEpoch(float64(t))
	case int64:
		return fromEpoch(float64(t))
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func fromEpoch(f float64) (time.Time, error) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0) || f < 0:
		return time.Time{}, fmt.Errorf("invalid epoch value %v", f)
	case f == 0:
		return time.Time{}, nil
	case f < epochMillisThreshold:
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	default:
		return time.UnixMilli(int64(f)).UTC(), nil
	}
}

var impressionToken = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([KkMmBb])?`)

// ParseImpressions returns an impressions estimate. Buckets such as
// "10K-100K" or "1M+" give their lower bound, and the original text is
// returned so callers can keep it.
func ParseImpressions(v interface{}) (int64, string, error) {
	switch t := v.(type) {
	case nil:
		return 0, "", nil
	case number:
		if n, err := t.Int64(); err == nil {
			return checkNonNegative(n)
		}
		if f, err := t.Float64(); err == nil {
			return checkFloat(f)
		}
		return ParseImpressions(t.String())
	case float64:
		return checkFloat(t)
	case int:
		return checkNonNegative(int64(t))
	case int64:
		return checkNonNegative(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, "", nil
		}
		if n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64); err == nil {
			return checkNonNegative(n)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return checkFloat(f)
		}
		m := impressionToken.FindStringSubmatch(strings.ReplaceAll(s, ",", ""))
		if m == nil {
			return 0, "", fmt.Errorf("unrecognized impressions value %q", s)
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, "", fmt.Errorf("unrecognized impressions value %q", s)
		}
		switch strings.ToUpper(m[2]) {
		case "K":
			f *= 1e3
		case "M":
			f *= 1e6
		case "B":
			f *= 1e9
		}
		return int64(f), s, nil
	default:
		return 0, "", fmt.Errorf("unsupported impressions type %T", v)
	}
}

// checkFloat truncates a plain numeric estimate such as 1.5e3
func checkFloat(f float64) (int64, string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
		return 0, "", fmt.Errorf("impressions out of range: %v", f)
	}
	return checkNonNegative(int64(f))
}

// cleanText trims surrounding space and turns CR and CRLF line breaks into
// LF. CSV readers fold CRLF inside quoted fields into LF, so a CR in an
// exported field would not read back as written.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "\r") {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
	}
	return s
}

func checkNonNegative(n int64) (int64, string, error) {
	if n < 0 {
		return 0, "", fmt.Errorf("negative impressions %d", n)
	}
	return n, "", nil
}

// metadataValue renders v as a metadata string. Nested values become JSON
// with sorted keys. ok is false for nulls, which are dropped.
func metadataValue(v interface{}) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	case number:
		return t.String(), true, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true, nil
	case int:
		return strconv.Itoa(t), true, nil
	case int64:
		return strconv.FormatInt(t, 10), true, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false, err
		}
		return string(b), true, nil
	}
}

// ToRaw renders rec back into a payload using canonical keys. Normalizing
// the result yields rec again.
func ToRaw(rec *models.AdRecord) models.RawAd {
	raw := models.RawAd{
		FieldAdID:         rec.AdID,
		FieldAdvertiserID: rec.AdvertiserID,
		FieldFirstSeen:    rec.FirstSeenAt.UTC().Format(time.RFC3339Nano),
		FieldLastSeen:     rec.LastSeenAt.UTC().Format(time.RFC3339Nano),
		FieldImpressions:  rec.ImpressionsEstimate,
	}
	if rec.CreativeURL != "" {
		raw[FieldCreativeURL] = rec.CreativeURL
	}
	for k, v := range rec.Metadata {
		if _, taken := raw[k]; !taken {
			raw[k] = v
		}
	}
	return raw
}
