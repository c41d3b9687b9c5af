// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package qdrant stores index snapshots in Qdrant. Every save writes a new
// collection and repoints an alias at it, so loads never see a partially
// written generation.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/jllopis/mathqa/pkg/corpus"
	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/snapshot"
)

const (
	upsertBatch = 256
	scrollPage  = 256

	payloadRecord    = "record"
	payloadPosition  = "position"
	payloadModel     = "model"
	payloadCreatedAt = "created_at"
)

// Store implements snapshot.Store on top of a Qdrant alias.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	alias       string
}

// New dials addr (host:port of the gRPC endpoint) and returns a store for
// the alias name.
func New(addr, name string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to create qdrant client", err).
			WithContext("addr", addr)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), name)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a store from existing gRPC clients.
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient, name string) *Store {
	if name == "" {
		name = "mathqa"
	}
	return &Store{points: points, collections: collections, alias: name}
}

// Name implements snapshot.Store.
func (s *Store) Name() string {
	return "qdrant:" + s.alias
}

// Close releases the gRPC connection when the store owns it.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Save writes snap into a fresh collection and swaps the alias onto it.
// The previous generation is dropped once the alias has moved.
func (s *Store) Save(ctx context.Context, snap *snapshot.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	target := fmt.Sprintf("%s-%s", s.alias, uuid.NewString())

	size := uint64(snap.Dimension)
	if size == 0 {
		size = 1
	}
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: target,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size: size,
					// Cosine collections normalize vectors on upload; Dot keeps them as written.
					Distance: pb.Distance_Dot,
				},
			},
		},
	})
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to create qdrant collection", err).
			WithContext("collection", target)
	}

	if err := s.upsert(ctx, target, snap); err != nil {
		s.drop(target)
		return err
	}

	previous, err := s.current(ctx)
	if err != nil {
		s.drop(target)
		return err
	}

	var actions []*pb.AliasOperations
	if previous != "" {
		actions = append(actions, &pb.AliasOperations{
			Action: &pb.AliasOperations_DeleteAlias{
				DeleteAlias: &pb.DeleteAlias{AliasName: s.alias},
			},
		})
	}
	actions = append(actions, &pb.AliasOperations{
		Action: &pb.AliasOperations_CreateAlias{
			CreateAlias: &pb.CreateAlias{CollectionName: target, AliasName: s.alias},
		},
	})
	if _, err := s.collections.UpdateAliases(ctx, &pb.ChangeAliases{Actions: actions}); err != nil {
		s.drop(target)
		return errors.New(errors.CodeInternal, "failed to swap qdrant alias", err).
			WithContext("alias", s.alias)
	}

	if previous != "" && previous != target {
		s.drop(previous)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, collection string, snap *snapshot.Snapshot) error {
	wait := true
	created := snap.CreatedAt.UTC().Format(time.RFC3339Nano)
	for start := 0; start < len(snap.Records); start += upsertBatch {
		end := min(start+upsertBatch, len(snap.Records))
		batch := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			recJSON, err := json.Marshal(snap.Records[i])
			if err != nil {
				return errors.New(errors.CodeInternal, "failed to encode record", err).WithContext("position", i)
			}
			batch = append(batch, &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Num{Num: uint64(i)},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: snap.Vectors[i]},
					},
				},
				Payload: map[string]*pb.Value{
					payloadRecord:    {Kind: &pb.Value_StringValue{StringValue: string(recJSON)}},
					payloadPosition:  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(i)}},
					payloadModel:     {Kind: &pb.Value_StringValue{StringValue: snap.Model}},
					payloadCreatedAt: {Kind: &pb.Value_StringValue{StringValue: created}},
				},
			})
		}
		if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         batch,
		}); err != nil {
			return errors.New(errors.CodeInternal, "failed to upsert points", err).
				WithContext("collection", collection)
		}
	}
	return nil
}

// current returns the collection the alias points at, or "".
func (s *Store) current(ctx context.Context) (string, error) {
	resp, err := s.collections.ListAliases(ctx, &pb.ListAliasesRequest{})
	if err != nil {
		return "", errors.New(errors.CodeInternal, "failed to list qdrant aliases", err)
	}
	for _, a := range resp.GetAliases() {
		if a.GetAliasName() == s.alias {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

func (s *Store) drop(collection string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
}

// Load scrolls every point behind the alias and reassembles the snapshot in
// position order.
func (s *Store) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	var (
		snap   = &snapshot.Snapshot{Records: []corpus.Record{}, Vectors: [][]float32{}}
		offset *pb.PointId
		limit  = uint32(scrollPage)
	)
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.alias,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if status.Code(err) == codes.NotFound {
			return nil, errors.New(errors.CodeIndexNotFound, "qdrant alias does not exist", err).
				WithContext("alias", s.alias)
		}
		if err != nil {
			return nil, errors.New(errors.CodeCorruptIndex, "failed to scroll qdrant points", err).
				WithContext("alias", s.alias)
		}

		for _, p := range resp.GetResult() {
			if err := appendPoint(snap, p); err != nil {
				return nil, err
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	if len(snap.Vectors) > 0 {
		snap.Dimension = len(snap.Vectors[0])
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// appendPoint adds p to snap. Scroll returns points ordered by id, and ids
// are corpus positions, so each point must be the next position.
func appendPoint(snap *snapshot.Snapshot, p *pb.RetrievedPoint) error {
	pos := int(p.GetId().GetNum())
	if pos != len(snap.Records) {
		return errors.Newf(errors.CodeCorruptIndex, "qdrant point %d is out of sequence", pos)
	}
	payload := p.GetPayload()
	var rec corpus.Record
	if err := json.Unmarshal([]byte(payload[payloadRecord].GetStringValue()), &rec); err != nil {
		return errors.New(errors.CodeCorruptIndex, "failed to decode record payload", err).
			WithContext("position", pos)
	}
	if pos == 0 {
		snap.Model = payload[payloadModel].GetStringValue()
		if ts, err := time.Parse(time.RFC3339Nano, payload[payloadCreatedAt].GetStringValue()); err == nil {
			snap.CreatedAt = ts
		}
	}
	snap.Records = append(snap.Records, rec)
	snap.Vectors = append(snap.Vectors, p.GetVectors().GetVector().GetData())
	return nil
}
