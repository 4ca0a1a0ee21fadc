// Package extractionutils builds an extraction.Extractor from configuration.
package extractionutils

import (
	"fmt"
	"time"

	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/extraction/passthrough"
	"github.com/papercomputeco/memwal/pkg/extraction/remote"
)

type NewExtractorOpts struct {
	ProviderType string
	TargetURL    string
	Timeout      time.Duration
}

func NewExtractor(o *NewExtractorOpts) (extraction.Extractor, error) {
	switch o.ProviderType {
	case "", "remote", "http":
		return remote.NewExtractor(remote.Config{
			BaseURL: o.TargetURL,
			Timeout: o.Timeout,
		})
	case "passthrough":
		return passthrough.NewExtractor(), nil
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", o.ProviderType)
	}
}
