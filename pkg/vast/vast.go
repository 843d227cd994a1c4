// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vast parses and validates VAST video creatives well enough
// to reject broken fills before they reach a player.
package vast

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// VAST is the document root.
type VAST struct {
	XMLName xml.Name `xml:"VAST"`
	Version string   `xml:"version,attr"`
	Ads     []Ad     `xml:"Ad"`
}

// Ad is one advertisement, inline or a wrapper pointing elsewhere.
type Ad struct {
	ID      string   `xml:"id,attr"`
	InLine  *InLine  `xml:"InLine,omitempty"`
	Wrapper *Wrapper `xml:"Wrapper,omitempty"`
}

// InLine carries the full creative.
type InLine struct {
	AdSystem  AdSystem   `xml:"AdSystem"`
	AdTitle   string     `xml:"AdTitle"`
	Creatives []Creative `xml:"Creatives>Creative"`
}

// Wrapper delegates to another VAST tag.
type Wrapper struct {
	AdSystem     AdSystem `xml:"AdSystem"`
	VASTAdTagURI string   `xml:"VASTAdTagURI"`
}

// AdSystem identifies the serving system.
type AdSystem struct {
	Name    string `xml:",chardata"`
	Version string `xml:"version,attr,omitempty"`
}

// Creative is one renderable unit.
type Creative struct {
	ID     string  `xml:"id,attr,omitempty"`
	Linear *Linear `xml:"Linear,omitempty"`
}

// Linear is a video creative.
type Linear struct {
	Duration   string      `xml:"Duration"`
	MediaFiles []MediaFile `xml:"MediaFiles>MediaFile"`
}

// MediaFile is one encoded rendition.
type MediaFile struct {
	Delivery string `xml:"delivery,attr"`
	Type     string `xml:"type,attr"`
	Width    int    `xml:"width,attr"`
	Height   int    `xml:"height,attr"`
	Bitrate  int    `xml:"bitrate,attr,omitempty"`
	URL      string `xml:",chardata"`
}

// IsDocument reports whether s looks like inline VAST XML rather than
// an HTML creative or a tag URL.
func IsDocument(s string) bool {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "<?xml") {
		if i := strings.Index(trimmed, "?>"); i >= 0 {
			trimmed = strings.TrimSpace(trimmed[i+2:])
		}
	}
	return strings.HasPrefix(trimmed, "<VAST")
}

// Parse decodes a VAST document.
func Parse(data []byte) (*VAST, error) {
	var v VAST
	if err := xml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vast: %w", err)
	}
	return &v, nil
}

// Validate checks the document is playable: at least one ad that is
// either a wrapper with a tag URI or an inline with a usable media file.
func (v *VAST) Validate() error {
	if len(v.Ads) == 0 {
		return errors.New("vast: no ads")
	}
	for _, ad := range v.Ads {
		if ad.Wrapper != nil {
			if strings.TrimSpace(ad.Wrapper.VASTAdTagURI) == "" {
				return errors.New("vast: wrapper without tag uri")
			}
			continue
		}
		if ad.InLine == nil {
			return errors.New("vast: ad with neither inline nor wrapper")
		}
		if !hasPlayableMedia(ad.InLine) {
			return errors.New("vast: inline ad without a playable media file")
		}
	}
	return nil
}

func hasPlayableMedia(in *InLine) bool {
	for _, c := range in.Creatives {
		if c.Linear == nil {
			continue
		}
		for _, mf := range c.Linear.MediaFiles {
			if strings.TrimSpace(mf.URL) != "" && mf.Type != "" {
				return true
			}
		}
	}
	return false
}
