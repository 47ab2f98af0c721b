package memory

import "github.com/antigravity-dev/cortex/internal/store"

// RunLifecycle retiers facts and vectors based on age/support/conflict,
// grounded on run_memory_lifecycle in the original.
func RunLifecycle(st *store.Store) error {
	if err := retierVectors(st); err != nil {
		return err
	}
	return retierFacts(st)
}

func retierVectors(st *store.Store) error {
	vectors, err := st.AllVectorsForLifecycle()
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	var maxID int64
	for _, v := range vectors {
		if v.ID > maxID {
			maxID = v.ID
		}
	}
	for _, v := range vectors {
		age := maxID - v.ID
		tier := "crystal"
		switch {
		case age <= 30:
			tier = "short"
		case age <= 200:
			tier = "mid"
		case age <= 1200:
			tier = "long"
		}
		if tier != v.Tier {
			if err := st.UpdateVectorTier(v.ID, tier); err != nil {
				return err
			}
		}
	}
	return nil
}

func retierFacts(st *store.Store) error {
	facts, err := st.AllFactsForLifecycle()
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return nil
	}
	var maxSeen int64
	for _, f := range facts {
		if f.LastSeenEventID > maxSeen {
			maxSeen = f.LastSeenEventID
		}
	}
	for _, f := range facts {
		age := float64(maxSeen - f.LastSeenEventID)
		lifecycle := float64(f.SupportCount) - 0.6*float64(f.ConflictCount) - 0.002*age
		tier := "archive"
		switch {
		case lifecycle >= 3.0:
			tier = "hot"
		case lifecycle >= 1.0:
			tier = "warm"
		case lifecycle >= -0.5:
			tier = "cold"
		}
		if tier != f.Tier {
			if err := st.UpdateFactTier(f.ID, tier); err != nil {
				return err
			}
		}
	}
	return nil
}
