// Package graph converts Kythe binary indexes into GraphML documents and
// loads those documents into a Gremlin graph store.
//
// # Binary Index Format
//
// The cxx indexer writes a stream of kythe.proto.storage.Entry messages, each
// prefixed by its varint-encoded length. Entries are either node facts
// (no edge kind) or edges (edge kind set, fact name "/"). Messages are decoded
// field by field with protowire, so no generated code is needed.
//
// # GraphML Mapping
//
//   - One vertex per distinct VName. VName fields become the vertex properties
//     signature, corpus, root, path and language.
//   - Node facts become vertex properties: "/kythe/node/kind" is stored as
//     "node_kind". The node kind doubles as the vertex label.
//   - Each edge becomes a GraphML edge labelled with the edge kind minus its
//     "/kythe/edge/" prefix ("ref", "childof", "param.0").
//   - Every vertex and edge carries a task_id property so each task owns a
//     disjoint subgraph.
//   - "/kythe/text" and "/kythe/code" facts are dropped. They hold file
//     contents and serialized protos that the source tree already covers.
//
// # Loading
//
// Loader implementations import a GraphML document in one bulk operation.
// GremlinLoader opens a websocket connection per call, submits
// g.io(file).read().iterate() and closes the connection when the server
// reports a terminal status.
package graph
