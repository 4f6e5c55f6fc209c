/*
Package expr parses and evaluates the guard conditions attached to workflow
transitions.

Guards are parsed once when a workflow definition is compiled and evaluated
for every matching event. Syntax errors are reported at compile time.

# Syntax

	<or>      := <and> ('or' <and>)*
	<and>     := <unary> ('and' <unary>)*
	<unary>   := ('not' | '!') <unary> | <primary>
	<primary> := '(' <or> ')' | <value> [<op> <value>]
	<op>      := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains' | custom
	<value>   := 'string' | "string" | number | true | false | null | path

A path is a dotted name resolved through nested maps:

	detail.orderId != ''
	order.itemCount > 0 and detail.priority == 'high'
	not (detail.source == 'replay')

A value with no operator is tested for truthiness. nil, false, "" and zero
are false. Missing paths resolve to nil.

== and != compare the printed form of both sides, so 5 == '5' holds. The
ordering operators compare numerically. contains tests for a substring.

# Custom Operators

	e, err := expr.Parse("detail.userId startsWith 'vip-'",
	    expr.WithOperator("startsWith", func(l, r any) bool {
	        return strings.HasPrefix(fmt.Sprint(l), fmt.Sprint(r))
	    }))
*/
package expr
