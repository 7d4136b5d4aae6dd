package messaging

import "sort"

// BuildConversations folds the viewer's full message set into per-partner
// Conversation summaries. It is pure and deterministic: the same input always
// yields the same output, so it can be re-run on every refresh without drift.
//
// Steps:
//  1. drop messages the viewer has deleted for themselves
//  2. group the rest by the other participant, preserving input order
//  3. per group: stable-sort ascending by CreatedAt (ties keep input order),
//     recount unread, take the last element as LastMessage
//  4. order the conversation list descending by LastMessage.CreatedAt
//
// A partner whose messages are all hidden from the viewer yields no Conversation.
func BuildConversations(viewerID string, msgs []Message, lookup PartnerLookup) []Conversation {
	groups := make(map[string][]Message)
	partnerOrder := make([]string, 0)

	for _, msg := range msgs {
		if !msg.Involves(viewerID) || !msg.VisibleTo(viewerID) {
			continue
		}
		partnerID := msg.PartnerID(viewerID)
		if _, ok := groups[partnerID]; !ok {
			partnerOrder = append(partnerOrder, partnerID)
		}
		groups[partnerID] = append(groups[partnerID], msg)
	}

	convs := make([]Conversation, 0, len(groups))
	for _, partnerID := range partnerOrder {
		grp := groups[partnerID]
		sort.SliceStable(grp, func(i, j int) bool { return grp[i].CreatedAt.Before(grp[j].CreatedAt) })

		var unread int
		for _, msg := range grp {
			if msg.UnreadBy(viewerID) {
				unread++
			}
		}

		conv := Conversation{
			PartnerID:   partnerID,
			Messages:    grp,
			UnreadCount: unread,
			LastMessage: grp[len(grp)-1],
		}
		if lookup != nil {
			if partner, ok := lookup(partnerID); ok {
				conv.PartnerName = partner.Name
				conv.PartnerRole = partner.Role
			}
		}
		convs = append(convs, conv)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessage.CreatedAt.After(convs[j].LastMessage.CreatedAt)
	})
	return convs
}
