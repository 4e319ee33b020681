package decision

import "errors"

// ErrNoEligibleItem means the pod has no rendition compatible with the
// viewer's stream type.
var ErrNoEligibleItem = errors.New("decision: no eligible pod item")

// SelectItem picks the rendition for a viewer: equal or nearest-below
// bitrate among items of the matching stream type. An audio-only viewer must
// never receive a video rendition; if no item of the right type exists the
// caller must pass through.
func SelectItem(pod *AdPod, viewerBitrateBps int64, audioOnly bool) (*AdPodItem, error) {
	var best *AdPodItem
	var lowest *AdPodItem
	for i := range pod.Items {
		item := &pod.Items[i]
		if item.IsAudioOnly != audioOnly {
			continue
		}
		if lowest == nil || item.BitrateBps < lowest.BitrateBps {
			lowest = item
		}
		if viewerBitrateBps > 0 && item.BitrateBps <= viewerBitrateBps {
			if best == nil || item.BitrateBps > best.BitrateBps {
				best = item
			}
		}
	}
	if best != nil {
		return best, nil
	}
	// Unknown viewer bitrate, or every rendition sits above it: take the
	// lowest to stay safe.
	if lowest != nil {
		return lowest, nil
	}
	return nil, ErrNoEligibleItem
}
