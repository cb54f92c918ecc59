package coalesce

import "github.com/hazyhaar/editkit/editwatch/mutation"

// Filter drops attribute changes on the root itself unless they flip its
// editability flag. The host UI restyles the root for reasons unrelated to
// content; descendant attributes and all other kinds always count.
// The input batch is not modified.
func Filter(batch mutation.Batch, root mutation.NodeID) mutation.Batch {
	out := make(mutation.Batch, 0, len(batch))
	for _, r := range batch {
		if r.Kind == mutation.KindAttribute &&
			r.Target == root &&
			r.AttributeName != mutation.AttrContentEditable {
			continue
		}
		out = append(out, r)
	}
	return out
}
