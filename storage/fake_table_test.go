package storage

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"task-sync/domain"
)

type fakeTable struct {
	mu       sync.Mutex
	entities map[string]domain.TaskEntity
	deletes  []string
	listErr  error
	addErr   error
}

func newFakeTable() *fakeTable {
	return &fakeTable{entities: map[string]domain.TaskEntity{}}
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return aztables.AddEntityResponse{}, f.addErr
	}
	var ent domain.TaskEntity
	if err := sonic.Unmarshal(entity, &ent); err != nil {
		return aztables.AddEntityResponse{}, err
	}
	key := ent.PartitionKey + "/" + ent.RowKey
	if _, exists := f.entities[key]; exists {
		return aztables.AddEntityResponse{}, &azcore.ResponseError{StatusCode: http.StatusConflict}
	}
	f.entities[key] = ent
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, rowKey)
	key := partitionKey + "/" + rowKey
	if _, ok := f.entities[key]; !ok {
		return aztables.DeleteEntityResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound}
	}
	delete(f.entities, key)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	owner := ""
	if listOptions != nil && listOptions.Filter != nil {
		owner = strings.TrimSuffix(strings.TrimPrefix(*listOptions.Filter, "PartitionKey eq '"), "'")
		owner = strings.ReplaceAll(owner, "''", "'")
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(resp aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.listErr != nil {
				return aztables.ListEntitiesResponse{}, f.listErr
			}
			keys := make([]string, 0, len(f.entities))
			for k, ent := range f.entities {
				if ent.PartitionKey == owner {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)
			resp := aztables.ListEntitiesResponse{}
			for _, k := range keys {
				data, err := sonic.Marshal(f.entities[k])
				if err != nil {
					return aztables.ListEntitiesResponse{}, err
				}
				resp.Entities = append(resp.Entities, data)
			}
			return resp, nil
		},
	})
}

func (f *fakeTable) deleteCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletes))
	copy(out, f.deletes)
	return out
}

var errBoom = errors.New("boom")
