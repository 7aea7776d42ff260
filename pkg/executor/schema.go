package executor

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

const schemaSDL = `
type Query {
  article(id: Int!): Article
  page(id: Int!): Page
  articles(offset: Int = 0, limit: Int = 10): ArticleConnection!
  pages(offset: Int = 0, limit: Int = 10): PageConnection!
}

type Mutation {
  publish(id: Int!): Boolean!
  unpublish(id: Int!): Boolean!
}

type Article {
  id: Int!
  title: String!
}

type Page {
  id: Int!
  title: String!
}

type ArticleConnection {
  total: Int!
  items: [Article!]!
}

type PageConnection {
  total: Int!
  items: [Page!]!
}
`

var schema = gqlparser.MustLoadSchema(&ast.Source{Name: "example.graphqls", Input: schemaSDL})

// Bundles served by the schema and the type names of their nodes.
var bundles = map[string]string{
	"article": "Article",
	"page":    "Page",
}
