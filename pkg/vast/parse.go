package vast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// parse reads one VAST document. Inline ads and wrappers are split; the
// resolver decides what to do with the wrappers.
func parse(body []byte) (*response, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("vast: malformed XML: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "VAST" {
		return nil, fmt.Errorf("vast: root element is not VAST")
	}
	resp := &response{Version: root.SelectAttrValue("version", "")}

	for _, adEl := range root.SelectElements("Ad") {
		id := adEl.SelectAttrValue("id", "")
		seq, _ := strconv.Atoi(adEl.SelectAttrValue("sequence", "0"))
		if inline := adEl.SelectElement("InLine"); inline != nil {
			ad := parseInline(inline)
			ad.ID = id
			ad.Sequence = seq
			ad.Tier = parseTier(adEl)
			resp.Inline = append(resp.Inline, ad)
		} else if wrap := adEl.SelectElement("Wrapper"); wrap != nil {
			w := parseWrapper(wrap)
			w.Tier = parseTier(adEl)
			if w.AdTagURI != "" {
				resp.Wrappers = append(resp.Wrappers, w)
			}
		}
	}
	return resp, nil
}

func parseInline(el *etree.Element) Ad {
	var ad Ad
	if t := el.SelectElement("AdTitle"); t != nil {
		ad.Title = strings.TrimSpace(t.Text())
	}
	ad.Trackers = parseTrackers(el)

	for _, creatives := range el.SelectElements("Creatives") {
		for _, creative := range creatives.SelectElements("Creative") {
			linear := creative.SelectElement("Linear")
			if linear == nil {
				continue
			}
			if d := linear.SelectElement("Duration"); d != nil {
				if dur, err := parseVASTDuration(d.Text()); err == nil {
					ad.Duration = dur
				}
			}
			ad.Trackers.Merge(parseTrackers(linear))
			if mfs := linear.SelectElement("MediaFiles"); mfs != nil {
				for _, mf := range mfs.SelectElements("MediaFile") {
					if m := parseMediaFile(mf); m.URL != "" {
						ad.MediaFiles = append(ad.MediaFiles, m)
					}
				}
			}
		}
	}
	return ad
}

func parseWrapper(el *etree.Element) wrapper {
	var w wrapper
	if uri := el.SelectElement("VASTAdTagURI"); uri != nil {
		w.AdTagURI = strings.TrimSpace(uri.Text())
	}
	w.Trackers = parseTrackers(el)
	for _, creatives := range el.SelectElements("Creatives") {
		for _, creative := range creatives.SelectElements("Creative") {
			if linear := creative.SelectElement("Linear"); linear != nil {
				w.Trackers.Merge(parseTrackers(linear))
			}
		}
	}
	return w
}

// parseTrackers collects Impression, Error, TrackingEvents and ClickTracking
// URLs directly under el.
func parseTrackers(el *etree.Element) TrackerSet {
	var t TrackerSet
	for _, imp := range el.SelectElements("Impression") {
		if u := strings.TrimSpace(imp.Text()); u != "" {
			t.Impression = append(t.Impression, u)
		}
	}
	for _, errEl := range el.SelectElements("Error") {
		if u := strings.TrimSpace(errEl.Text()); u != "" {
			t.Error = append(t.Error, u)
		}
	}
	if events := el.SelectElement("TrackingEvents"); events != nil {
		for _, tr := range events.SelectElements("Tracking") {
			u := strings.TrimSpace(tr.Text())
			if u == "" {
				continue
			}
			switch tr.SelectAttrValue("event", "") {
			case "start":
				t.Start = append(t.Start, u)
			case "firstQuartile":
				t.FirstQuartile = append(t.FirstQuartile, u)
			case "midpoint":
				t.Midpoint = append(t.Midpoint, u)
			case "thirdQuartile":
				t.ThirdQuartile = append(t.ThirdQuartile, u)
			case "complete":
				t.Complete = append(t.Complete, u)
			}
		}
	}
	if clicks := el.SelectElement("VideoClicks"); clicks != nil {
		for _, c := range clicks.SelectElements("ClickTracking") {
			if u := strings.TrimSpace(c.Text()); u != "" {
				t.ClickTracking = append(t.ClickTracking, u)
			}
		}
	}
	return t
}

func parseMediaFile(el *etree.Element) MediaFile {
	m := MediaFile{
		URL:      strings.TrimSpace(el.Text()),
		MIMEType: el.SelectAttrValue("type", ""),
		Codec:    el.SelectAttrValue("codec", ""),
		Delivery: el.SelectAttrValue("delivery", ""),
	}
	// VAST carries kbps; everything downstream works in bps.
	if kbps, err := strconv.ParseInt(el.SelectAttrValue("bitrate", ""), 10, 64); err == nil {
		m.BitrateBps = kbps * 1000
	}
	m.Width, _ = strconv.Atoi(el.SelectAttrValue("width", ""))
	m.Height, _ = strconv.Atoi(el.SelectAttrValue("height", ""))
	return m
}

// parseTier reads a seller tier from an Extensions block or a bare Tier
// element anywhere under the Ad.
func parseTier(adEl *etree.Element) uint32 {
	if tier := adEl.FindElement(".//Tier"); tier != nil {
		if v, err := strconv.ParseUint(strings.TrimSpace(tier.Text()), 10, 32); err == nil {
			return uint32(v)
		}
	}
	return 0
}
