package watcher

import "attackwatch/internal/model"

// Grouping is one kind's batch of unprocessed records partitioned by
// (actor, category). Records without an actor land in Unidentified.
type Grouping struct {
	Groups       []*model.NotificationGroup
	Unidentified []int64
}

// AllIDs returns every record id in the batch, grouped or not.
func (g Grouping) AllIDs() []int64 {
	n := len(g.Unidentified)
	for _, grp := range g.Groups {
		n += len(grp.RecordIDs)
	}
	out := make([]int64, 0, n)
	for _, grp := range g.Groups {
		out = append(out, grp.RecordIDs...)
	}
	return append(out, g.Unidentified...)
}

// GroupRecords partitions records of a single kind. Groups keep first-seen order.
func GroupRecords(kind model.Kind, records []model.Record) Grouping {
	var out Grouping
	index := make(map[model.GroupKey]*model.NotificationGroup)
	for _, rec := range records {
		actor := rec.ActorID()
		if actor == "" {
			out.Unidentified = append(out.Unidentified, rec.ID())
			continue
		}
		key := model.GroupKey{ActorID: actor, Category: rec.Category()}
		grp, ok := index[key]
		if !ok {
			grp = &model.NotificationGroup{Key: key, Kind: kind}
			index[key] = grp
			out.Groups = append(out.Groups, grp)
		}
		grp.RecordIDs = append(grp.RecordIDs, rec.ID())
	}
	return out
}
