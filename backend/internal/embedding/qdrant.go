package embedding

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pointNamespace derives stable Qdrant point ids from (userID, contactID).
var pointNamespace = uuid.MustParse("6f1c7a52-3b7e-4c1e-9a57-0d2f3c8e4b19")

// PointID is the Qdrant point id of a contact's embedding.
func PointID(userID, contactID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(userID+"/"+contactID)).String()
}

// QdrantProvider reads contact embeddings from a Qdrant collection.
type QdrantProvider struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
}

// NewQdrantProvider connects to Qdrant at the given gRPC address.
func NewQdrantProvider(addr, collection string) (*QdrantProvider, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("embedding: dial qdrant %s: %w", addr, err)
	}
	return newQdrantProvider(conn, pb.NewPointsClient(conn), collection), nil
}

func newQdrantProvider(conn *grpc.ClientConn, points pb.PointsClient, collection string) *QdrantProvider {
	return &QdrantProvider{conn: conn, points: points, collection: collection}
}

// Close closes the underlying gRPC connection.
func (q *QdrantProvider) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// Embeddings fetches the stored vectors of contactIDs in one GetPoints call.
func (q *QdrantProvider) Embeddings(ctx context.Context, userID string, contactIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(contactIDs))
	if len(contactIDs) == 0 {
		return out, nil
	}

	byPoint := make(map[string]string, len(contactIDs))
	ids := make([]*pb.PointId, 0, len(contactIDs))
	for _, cid := range contactIDs {
		pid := PointID(userID, cid)
		byPoint[pid] = cid
		ids = append(ids, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pid}})
	}

	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: q.collection,
		Ids:            ids,
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: get %d points: %w", len(ids), err)
	}

	for _, p := range resp.GetResult() {
		cid, ok := byPoint[p.GetId().GetUuid()]
		if !ok {
			continue
		}
		if data := p.GetVectors().GetVector().GetData(); len(data) > 0 {
			out[cid] = data
		}
	}
	return out, nil
}
