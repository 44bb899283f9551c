package store

import (
	"testing"
	"time"

	"sitescore/internal/model"
	"sitescore/internal/score"
)

func TestMemoryCorpusLatest(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()
	if _, _, err := m.LatestCorpus(ctx); err != ErrNotFound {
		t.Fatalf("empty store: want ErrNotFound, got %v", err)
	}
	c1 := &score.Corpus{BuildID: "b1", RadiusM: 1500, Suffix: "_1km"}
	c2 := &score.Corpus{BuildID: "b2", RadiusM: 1500, Suffix: "_1km"}
	if err := m.SaveCorpus(ctx, c1, model.BuildRecord{ID: "b1"}); err != nil {
		t.Fatalf("SaveCorpus: %v", err)
	}
	if err := m.SaveCorpus(ctx, c2, model.BuildRecord{ID: "b2"}); err != nil {
		t.Fatalf("SaveCorpus: %v", err)
	}
	got, rec, err := m.LatestCorpus(ctx)
	if err != nil {
		t.Fatalf("LatestCorpus: %v", err)
	}
	if got.BuildID != "b2" || rec.ID != "b2" {
		t.Fatalf("want latest b2, got %s/%s", got.BuildID, rec.ID)
	}
}

func TestMemoryListBuildsPagination(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()
	for _, id := range []string{"b1", "b2", "b3"} {
		if err := m.SaveCorpus(ctx, &score.Corpus{BuildID: id}, model.BuildRecord{ID: id}); err != nil {
			t.Fatalf("SaveCorpus: %v", err)
		}
	}
	// newest first
	page, next, err := m.ListBuilds(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListBuilds: %v", err)
	}
	if len(page) != 2 || page[0].ID != "b3" || page[1].ID != "b2" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if next == "" {
		t.Fatalf("expected cursor for second page")
	}
	page, next, err = m.ListBuilds(ctx, next, 2)
	if err != nil {
		t.Fatalf("ListBuilds page 2: %v", err)
	}
	if len(page) != 1 || page[0].ID != "b1" {
		t.Fatalf("unexpected second page: %+v", page)
	}
	if next != "" {
		t.Fatalf("expected empty cursor at end, got %q", next)
	}
}

func TestMemorySubscriptionsMatch(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()
	s1, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{"build.completed"}})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if _, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{"*"}}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	subs, err := m.GetSubscriptionsForEvent(ctx, "build.completed")
	if err != nil {
		t.Fatalf("GetSubscriptionsForEvent: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("want 2 matches (exact + wildcard), got %d", len(subs))
	}
	subs, err = m.GetSubscriptionsForEvent(ctx, "corpus.swapped")
	if err != nil {
		t.Fatalf("GetSubscriptionsForEvent: %v", err)
	}
	if len(subs) != 1 || subs[0].URL != "http://b" {
		t.Fatalf("want only wildcard match, got %+v", subs)
	}
	if err := m.DeleteSubscription(ctx, s1.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if err := m.DeleteSubscription(ctx, s1.ID); err != ErrNotFound {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestMemoryWebhookLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()
	id, err := m.EnqueueWebhook(ctx, "sub1", "build.completed", "http://x", "sec", []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("FetchDue: %v", err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("want 1 due delivery, got %+v", due)
	}
	// schedule a retry in the future; it must drop out of the due set
	next := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(ctx, id, false, &next, "boom", 500, 12); err != nil {
		t.Fatalf("MarkWebhookDelivery: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("retry scheduled in the future should not be due")
	}
	if err := m.RetryWebhookDelivery(ctx, id); err != nil {
		t.Fatalf("RetryWebhookDelivery: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 {
		t.Fatalf("manual retry should make the delivery due again")
	}
	if err := m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 8); err != nil {
		t.Fatalf("MarkWebhookDelivery success: %v", err)
	}
	list, _, err := m.ListWebhookDeliveries(ctx, "delivered", "", 10)
	if err != nil {
		t.Fatalf("ListWebhookDeliveries: %v", err)
	}
	if len(list) != 1 || list[0]["attempts"].(int) != 2 {
		t.Fatalf("unexpected delivered list: %+v", list)
	}
}
