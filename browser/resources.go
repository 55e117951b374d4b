package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceAliases maps config names to CDP resource types.
var resourceAliases = map[string]string{
	"images":      "image",
	"fonts":       "font",
	"media":       "media",
	"stylesheets": "stylesheet",
}

// blockList is a set of lower-cased CDP resource types to fail.
type blockList map[string]bool

func newBlockList(names []string) blockList {
	bl := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if t, ok := resourceAliases[n]; ok {
			n = t
		}
		if n != "" {
			bl[n] = true
		}
	}
	return bl
}

// blocks reports whether a request of type t is failed. Documents always
// load: a verification page must render for the operator.
func (bl blockList) blocks(t proto.NetworkResourceType) bool {
	lt := strings.ToLower(string(t))
	return lt != "document" && bl[lt]
}

// intercept installs the block list on page. The returned router must be
// stopped when the page closes.
func (bl blockList) intercept(page *rod.Page) (*rod.HijackRouter, error) {
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if bl.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}
