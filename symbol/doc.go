// Package symbol implements the catalog tree of discoverable data items.
//
// Each Source owns one root Node. Below it live stations, tables and columns,
// created lazily when a node is expanded. Every structural change is reported
// to the Listener installed on the root, which is how the browser package
// learns about additions, removals and connectivity changes.
//
// Node names are kept escaped so that a name containing '.' can be joined into
// a URI path without ambiguity. Station nodes are inserted in name order;
// tables and columns keep the order the backend enumerated them in and are
// replaced wholesale when their shape changes.
//
// Nodes are not safe for concurrent use. All mutation happens on the access
// event loop.
package symbol
