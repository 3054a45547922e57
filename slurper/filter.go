package slurper

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// buildFilter assembles the oplog cursor filter: namespace match on the
// collection, or its .files namespace for GridFS rivers
// (plus the db.$cmd sentinel so drop
// commands are observed), an optional user filter applied only to
// inserts/updates (deletes always pass), and ts > resumeTs.
func buildFilter(db, namespace string, gridFSNamespace string, isGridFS bool, userFilter string, resumeTs primitive.Timestamp) (bson.M, error) {
	tailedNs := namespace
	if isGridFS {
		tailedNs = gridFSNamespace
	}
	nsClause := bson.M{"$or": []bson.M{
		{"ns": tailedNs},
		{"ns": db + ".$cmd"},
	}}

	and := []bson.M{nsClause}

	if userFilter != "" {
		parsed, err := parseExtendedJSON(userFilter)
		if err != nil {
			return nil, err
		}
		and = append(and, bson.M{"$or": []bson.M{
			{"op": "d"},
			{"$and": []bson.M{
				{"$or": []bson.M{{"op": "i"}, {"op": "u"}}},
				parsed,
			}},
		}})
	}

	if resumeTs.T != 0 || resumeTs.I != 0 {
		and = append(and, bson.M{"ts": bson.M{"$gt": resumeTs}})
	}

	return bson.M{"$and": and}, nil
}

func parseExtendedJSON(s string) (bson.M, error) {
	var m bson.M
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
