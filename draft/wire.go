package draft

import "github.com/koinonia/draftsafe/app"

// Request and response bodies of the draft API.

type CreateRequest struct {
	LinkedPost string  `json:"linked_post"`
	Payload    Payload `json:"payload"`
}

type UpdateRequest struct {
	Payload Payload `json:"payload"`
}

// BeaconRequest is the body a client sends on teardown.  An empty DraftID
// means the draft was never created.
type BeaconRequest struct {
	DraftID    string  `json:"draft_id,omitempty"`
	LinkedPost string  `json:"linked_post"`
	Payload    Payload `json:"payload"`
}

type SyncRequest struct {
	Drafts []SyncItem `json:"drafts"`
}

// A ListItem is a draft with a short plain text preview of its content.
type ListItem struct {
	*Draft
	Preview string `json:"preview"`
}

type ListResponse struct {
	Drafts []ListItem `json:"drafts"`
	Page   *app.Page  `json:"page"`
}
