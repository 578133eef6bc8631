package githubcli

// GraphQL query strings, one per entity kind. $cursor is nullable so the
// first page simply omits it; GitHub treats a null after: as "from the
// head of the connection".

const queryMergedPRs = `
query($owner: String!, $name: String!, $first: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequests(states: MERGED, first: $first, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node {
          number
          title
          author { login }
          mergedBy { login }
          createdAt
          mergedAt
          closedAt
          labels(first: 10) { nodes { name } }
          additions
          deletions
          changedFiles
          reviews(first: 1) { totalCount }
        }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

const queryClosedPRs = `
query($owner: String!, $name: String!, $first: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequests(states: CLOSED, first: $first, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node {
          number
          title
          author { login }
          createdAt
          closedAt
          labels(first: 10) { nodes { name } }
          additions
          deletions
          changedFiles
          reviews(first: 1) { totalCount }
        }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

const queryOpenPRs = `
query($owner: String!, $name: String!, $first: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequests(states: OPEN, first: $first, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node {
          number
          title
          author { login }
          createdAt
          labels(first: 10) { nodes { name } }
          additions
          deletions
          changedFiles
          reviews(first: 10) {
            nodes { author { login } state submittedAt }
            totalCount
          }
        }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

const queryMergedPRsWithReviews = `
query($owner: String!, $name: String!, $first: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequests(states: MERGED, first: $first, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node {
          number
          title
          author { login }
          mergedBy { login }
          createdAt
          mergedAt
          closedAt
          labels(first: 10) { nodes { name } }
          additions
          deletions
          changedFiles
          reviews(first: 10) {
            nodes { author { login } state submittedAt }
            totalCount
          }
        }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

const queryCommits = `
query($owner: String!, $name: String!, $first: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    defaultBranchRef {
      target {
        ... on Commit {
          history(first: $first, after: $cursor) {
            edges {
              node {
                oid
                committedDate
                author { user { login } }
              }
            }
            pageInfo { hasNextPage endCursor }
          }
        }
      }
    }
  }
}`

const queryReleases = `
query($owner: String!, $name: String!, $first: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    releases(first: $first, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node { tagName publishedAt }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

const queryIssues = `
query($owner: String!, $name: String!, $first: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    issues(states: [OPEN, CLOSED], first: $first, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      edges {
        node {
          number
          createdAt
          author { login }
          comments(first: 5) {
            nodes { createdAt author { login } }
          }
        }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

const queryViewer = `query { viewer { login } }`
