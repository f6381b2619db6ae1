package datastore

import (
	"sort"

	"github.com/apiweld/apiweld/internal/types"
)

func sortByCreatedApis(all []*types.ApiConfig) {
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
}

func sortByCreatedExtracts(all []*types.ExtractConfig) {
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
}

func sortByCreatedTransforms(all []*types.TransformConfig) {
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
}
