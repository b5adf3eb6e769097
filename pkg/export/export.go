package export

import (
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	errs "tiktokads/pkg/errors"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/models"
	"tiktokads/pkg/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Header is the CSV header row, in column order
var Header = []string{
	"ad_id",
	"advertiser_id",
	"creative_url",
	"first_seen_at",
	"last_seen_at",
	"impressions_estimate",
}

// TimeFormat is used for timestamps in every format. Trailing zero
// fractions are dropped, so whole seconds print as plain RFC 3339.
const TimeFormat = time.RFC3339Nano

// Exporter writes records to files
type Exporter struct {
	logger logger.Logger
}

// New creates an Exporter
func New(log logger.Logger) *Exporter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Exporter{logger: log}
}

// Export writes records to path in format, sorted by ad_id, and returns the
// number of rows written. Failures are *errors.ExportError.
func (e *Exporter) Export(ctx context.Context, records []models.AdRecord, format models.OutputFormat, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &errs.ExportError{Path: path, Format: string(format), Err: err}
	}
	write, err := writerFor(format)
	if err != nil {
		return 0, &errs.ExportError{Path: path, Format: string(format), Err: err}
	}

	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b models.AdRecord) int {
		return strings.Compare(a.AdID, b.AdID)
	})

	start := time.Now()
	err = storage.WriteFileAtomic(path, 0644, func(w io.Writer) error {
		return write(w, sorted)
	})
	if err != nil {
		return 0, &errs.ExportError{Path: path, Format: string(format), Err: err}
	}

	e.logger.InfoWithFields("export written", map[string]interface{}{
		"path":     path,
		"format":   string(format),
		"records":  len(sorted),
		"duration": time.Since(start),
	})
	return len(sorted), nil
}

// DefaultPath names an export file in dir the same way on every run:
// tiktok_ads_<unix seconds>.<format>
func DefaultPath(dir string, format models.OutputFormat, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("tiktok_ads_%d.%s", now.Unix(), format))
}

func writerFor(format models.OutputFormat) (func(io.Writer, []models.AdRecord) error, error) {
	switch format {
	case models.FormatCSV, "":
		return WriteCSV, nil
	case models.FormatJSON:
		return WriteJSON, nil
	case models.FormatXML:
		return WriteXML, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteCSV writes the header and one row per record in the given order.
// A CRLF inside a field reads back as LF; records from the normalizer
// carry no CR.
func WriteCSV(w io.Writer, records []models.AdRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.AdID,
			rec.AdvertiserID,
			rec.CreativeURL,
			rec.FirstSeenAt.UTC().Format(TimeFormat),
			rec.LastSeenAt.UTC().Format(TimeFormat),
			strconv.FormatInt(rec.ImpressionsEstimate, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file produced by WriteCSV. Metadata is not part of the
// CSV format and comes back empty.
func ReadCSV(r io.Reader) ([]models.AdRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if !slices.Equal(header, Header) {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	var records []models.AdRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}

		first, err := time.Parse(time.RFC3339Nano, row[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: first_seen_at: %w", line, err)
		}
		last, err := time.Parse(time.RFC3339Nano, row[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: last_seen_at: %w", line, err)
		}
		impressions, err := strconv.ParseInt(row[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: impressions_estimate: %w", line, err)
		}

		records = append(records, models.AdRecord{
			AdID:                row[0],
			AdvertiserID:        row[1],
			CreativeURL:         row[2],
			FirstSeenAt:         first.UTC(),
			LastSeenAt:          last.UTC(),
			ImpressionsEstimate: impressions,
		})
	}
}

// WriteJSON writes records as an indented JSON array, metadata included
func WriteJSON(w io.Writer, records []models.AdRecord) error {
	if records == nil {
		records = []models.AdRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

type xmlAds struct {
	XMLName xml.Name `xml:"ads"`
	Ads     []xmlAd  `xml:"ad"`
}

type xmlAd struct {
	AdID                string    `xml:"ad_id"`
	AdvertiserID        string    `xml:"advertiser_id"`
	CreativeURL         string    `xml:"creative_url"`
	FirstSeenAt         string    `xml:"first_seen_at"`
	LastSeenAt          string    `xml:"last_seen_at"`
	ImpressionsEstimate int64     `xml:"impressions_estimate"`
	Metadata            []xmlMeta `xml:"metadata>meta,omitempty"`
}

type xmlMeta struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// WriteXML writes records as <ads><ad>...</ad></ads> with metadata entries
// in key order
func WriteXML(w io.Writer, records []models.AdRecord) error {
	doc := xmlAds{Ads: make([]xmlAd, 0, len(records))}
	for _, rec := range records {
		ad := xmlAd{
			AdID:                rec.AdID,
			AdvertiserID:        rec.AdvertiserID,
			CreativeURL:         rec.CreativeURL,
			FirstSeenAt:         rec.FirstSeenAt.UTC().Format(TimeFormat),
			LastSeenAt:          rec.LastSeenAt.UTC().Format(TimeFormat),
			ImpressionsEstimate: rec.ImpressionsEstimate,
		}
		for _, k := range slices.Sorted(maps.Keys(rec.Metadata)) {
			ad.Metadata = append(ad.Metadata, xmlMeta{Key: k, Value: rec.Metadata[k]})
		}
		doc.Ads = append(doc.Ads, ad)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
