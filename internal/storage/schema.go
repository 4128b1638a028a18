package storage

const schemaSQL = `
-- One row per configured site; name is the stable identifier
CREATE TABLE IF NOT EXISTS site (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    url TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT 'english',
    status TEXT NOT NULL CHECK (status IN ('INDEXING', 'INDEXED', 'FAILED')),
    status_time INTEGER NOT NULL, -- unix milliseconds
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS page (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id INTEGER NOT NULL REFERENCES site(id) ON DELETE CASCADE,
    path TEXT NOT NULL CHECK (length(path) <= 1000),
    code INTEGER NOT NULL,
    content TEXT NOT NULL,
    content_length INTEGER NOT NULL DEFAULT 0,
    UNIQUE (site_id, path)
);

-- frequency counts pages of the site containing the lemma
CREATE TABLE IF NOT EXISTS lemma (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id INTEGER NOT NULL REFERENCES site(id) ON DELETE CASCADE,
    lemma TEXT NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 0,
    UNIQUE (site_id, lemma)
);

-- rank counts occurrences of the lemma on the page
CREATE TABLE IF NOT EXISTS search_index (
    lemma_id INTEGER NOT NULL REFERENCES lemma(id) ON DELETE CASCADE,
    page_id INTEGER NOT NULL REFERENCES page(id) ON DELETE CASCADE,
    rank INTEGER NOT NULL CHECK (rank > 0),
    PRIMARY KEY (lemma_id, page_id)
);

CREATE INDEX IF NOT EXISTS idx_site_status ON site(status);
CREATE INDEX IF NOT EXISTS idx_site_url ON site(url);
CREATE INDEX IF NOT EXISTS idx_lemma_lemma ON lemma(lemma);
CREATE INDEX IF NOT EXISTS idx_search_index_page ON search_index(page_id);
`
