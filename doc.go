// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package sqlfluent builds SQL statements from chained method calls and runs them
through database/sql.

A [Builder] holds one statement at a time. Starting a statement with
[Builder.Select], [Builder.Insert], [Builder.Update], [Builder.UpdateWhere] or
[Builder.Delete] discards the previous one. Clauses are appended with methods
such as [Builder.From], [Builder.Where] and [Builder.OrderBy], and nothing
touches the database until a terminal method runs the statement:

	db := sqlfluent.NewDB(sqldb)
	rows, err := db.Builder().
		Select("name", "team").
		From("person").
		Where("team", sqlfluent.Equals, "engineering").
		OrderBy("name").
		Get(ctx)

The terminal methods are [Builder.Execute], [Builder.Get], [Builder.First],
[Builder.InsertID], [Builder.Affected], [Builder.GetInto] and
[Builder.FirstInto].

# Parameters

Values are never written into the SQL text. Every value gets a placeholder
named after its role and a number unique within the statement:

	cond_N                           Where, AndWhere, OrWhere, Having
	in_N                             In and NotIn, one per element
	between_start_N, between_end_N   Between and NotBetween

Insert and Update name the placeholder of each column after the column, and
UpdateWhere names its condition "where_<column>". A generated number whose
name is already taken by a column is skipped. The same shape of statement
always gives the same SQL, which lets prepared statements be reused. The
placeholder syntax follows the option given to [NewDB]: ":name" by default,
"?" for MySQL and "$1" for PostgreSQL.

After a terminal method succeeds the parameters are cleared while the text is
kept. [Builder.Bind] sets them again to rerun the statement.

# Identifiers

Column and table names are filtered, not quoted. Column names keep letters,
digits, "_", "." and "*"; table names keep letters, digits, "_" and ".". Any
other character is dropped.

# Nesting

[Builder.Sub] returns a builder sharing the placeholder numbering of its
parent. Its statement can be inlined with [Builder.WhereSub] or
[Builder.SubQuery], and its parameters are taken over. Start the parent
statement before building the nested one, since starting a statement restarts
the numbering.

# Errors

Builder methods do not return errors. The first error is kept and returned by
[Builder.Err] and by every terminal method. Failures reported by the database
are returned as [*ExecError].

UPDATE and DELETE statements without a WHERE clause are refused with
[ErrUnconditional] unless [Builder.AllRows] was called. Raw SQL starting with
WHERE counts as a WHERE clause.
*/
package sqlfluent
