// Package mapping supplies the index schema for the product domain.
// The control plane treats the mapping as an opaque body; only this
// package knows its shape.
package mapping

import "encoding/json"

// productMapping is the fixed schema attached to every product index.
// Changing it requires a new deployment; indices are never re-mapped in
// place.
const productMapping = `
{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 1,
    "analysis": {
      "analyzer": {
        "product_text": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "asciifolding"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "id": { "type": "keyword" },
      "recordId": { "type": "keyword" },
      "name": {
        "type": "text",
        "analyzer": "product_text",
        "fields": { "keyword": { "type": "keyword", "ignore_above": 256 } }
      },
      "description": { "type": "text", "analyzer": "product_text" },
      "brand": { "type": "keyword" },
      "category": { "type": "keyword" },
      "price": { "type": "scaled_float", "scaling_factor": 100 },
      "currency": { "type": "keyword" },
      "inStock": { "type": "boolean" },
      "attributes": { "type": "flattened" },
      "tags": { "type": "keyword" },
      "updatedAt": { "type": "date" }
    }
  }
}`

// Product returns the mapping body for product indices.
func Product() json.RawMessage {
	return json.RawMessage(productMapping)
}
