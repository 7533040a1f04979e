/*
Package capability holds the static tables that let features exchange
artifacts without knowing about each other: the capability Map (which output
types a feature accepts and under which verb) and the RouteTable (where each
feature's view is mounted).
*/
package capability
